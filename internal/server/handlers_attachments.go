package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"tally/internal/api"
	"tally/internal/models"
	"tally/internal/store"
)

const sniffLen = 512

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, expenseID) {
		s.writeServiceError(w, r, notFoundCode(fmt.Errorf("expense not found: %s", expenseID), ErrCodeExpenseNotFound))
		return
	}

	attachments, err := s.attachmentService.List(r.Context(), expenseID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, attachmentResponses(attachments))
}

func (s *Server) handleUploadAttachments(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, expenseID) {
		s.writeServiceError(w, r, forbidden(fmt.Errorf("not enough rights")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.multipartMaxMemory); err != nil {
		s.writeServiceError(w, r, classifyMultipartError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		s.writeServiceError(w, r, badRequestCode(fmt.Errorf("no file was uploaded"), ErrCodeMissingRequired))
		return
	}
	names := r.MultipartForm.Value["name"]

	parts := make([]UploadPart, 0, len(files))
	for i, header := range files {
		in := UploadInput{Filename: header.Filename, CreatorID: actorID(r)}
		switch {
		case len(files) == 1:
			in.Names = names
		case i < len(names):
			in.Names = []string{names[i]}
		}
		file, err := openUploadPart(header, &in)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		defer file.Close()
		parts = append(parts, UploadPart{UploadInput: in, Content: file})
	}

	created, err := s.attachmentService.UploadMany(r.Context(), expenseID, parts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, attachmentResponses(created))
}

// openUploadPart opens one multipart file and sets in.MediaType from the
// declared type or the sniffed content.
func openUploadPart(header *multipart.FileHeader, in *UploadInput) (multipart.File, error) {
	file, err := header.Open()
	if err != nil {
		return nil, badRequest(fmt.Errorf("read upload %s: %w", header.Filename, err))
	}

	peek := make([]byte, sniffLen)
	n, err := io.ReadFull(file, peek)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		file.Close()
		return nil, badRequest(fmt.Errorf("read upload %s: %w", header.Filename, err))
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, internalError(fmt.Errorf("rewind upload: %w", err))
	}
	in.MediaType = chooseMediaType(header.Header.Get("Content-Type"), http.DetectContentType(peek[:n]))
	return file, nil
}

// chooseMediaType trusts the declared part type unless it is missing or
// generic, then falls back to content sniffing.
func chooseMediaType(declared, sniffed string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" || strings.HasPrefix(strings.ToLower(declared), fallbackAttachmentContentMediaType) {
		return sniffed
	}
	return declared
}

func (s *Server) handleCreateAttachmentRef(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, expenseID) {
		s.writeServiceError(w, r, forbidden(fmt.Errorf("not enough rights")))
		return
	}

	var req api.AttachmentRefRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	in, err := attachmentInputFromRequest(req, actorID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	created, err := s.attachmentService.CreateRefs(r.Context(), expenseID, []models.AttachmentInput{in})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, attachmentResponse(created[0]))
}

func (s *Server) handleCreateAttachmentBatch(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, expenseID) {
		s.writeServiceError(w, r, forbidden(fmt.Errorf("not enough rights")))
		return
	}

	var req api.AttachmentBatchRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		s.writeServiceError(w, r, badRequestCode(fmt.Errorf("items are required"), ErrCodeMissingRequired))
		return
	}
	if len(req.Items) > maxBatchItems {
		s.writeServiceError(w, r, badRequestCode(fmt.Errorf("at most %d items per batch", maxBatchItems), ErrCodeRequestTooLarge))
		return
	}

	items := make([]models.AttachmentInput, 0, len(req.Items))
	for _, item := range req.Items {
		in, err := attachmentInputFromRequest(item, actorID(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		items = append(items, in)
	}

	created, err := s.attachmentService.CreateRefs(r.Context(), expenseID, items)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, attachmentResponses(created))
}

func (s *Server) handleDeleteAttachments(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, expenseID) {
		s.writeServiceError(w, r, notFoundCode(fmt.Errorf("expense not found: %s", expenseID), ErrCodeExpenseNotFound))
		return
	}

	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		ids = splitCSV(raw)
		if err := requireIDs(ids, validateAttachmentID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}

	result, err := s.attachmentService.DeleteMany(r.Context(), expenseID, ids)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleteResponse("", result))
}

// loadAttachment fetches an attachment and hides it from actors without
// access, so existence does not leak.
func (s *Server) loadAttachment(w http.ResponseWriter, r *http.Request) (*models.Attachment, bool) {
	id, ok := s.pathIDOrBadRequest(w, r, validateAttachmentID)
	if !ok {
		return nil, false
	}
	attachment, err := s.attachmentService.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	if !s.canAccess(r, attachment.OwnerID) {
		s.writeServiceError(w, r, notFoundCode(fmt.Errorf("attachment not found: %s", id), ErrCodeAttachmentNotFound))
		return nil, false
	}
	return attachment, true
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	attachment, ok := s.loadAttachment(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, attachmentResponse(*attachment))
}

func (s *Server) handleRenameAttachment(w http.ResponseWriter, r *http.Request) {
	attachment, ok := s.loadAttachment(w, r)
	if !ok {
		return
	}
	var req api.AttachmentRenameRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	renamed, err := s.attachmentService.Rename(r.Context(), attachment.ID, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, attachmentResponse(*renamed))
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	attachment, ok := s.loadAttachment(w, r)
	if !ok {
		return
	}
	result, err := s.attachmentService.Delete(r.Context(), attachment.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleteResponse(attachment.ID, result))
}

func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	attachment, ok := s.loadAttachment(w, r)
	if !ok {
		return
	}
	content, err := s.attachmentService.OpenContent(r.Context(), attachment)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.serveContent(w, r, content)
}

func (s *Server) handleDownloadThumbnail(w http.ResponseWriter, r *http.Request) {
	attachment, ok := s.loadAttachment(w, r)
	if !ok {
		return
	}
	content, err := s.attachmentService.OpenThumbnail(r.Context(), attachment, r.PathValue("file"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.serveContent(w, r, content)
}

func (s *Server) serveContent(w http.ResponseWriter, r *http.Request, content *AttachmentContent) {
	defer content.Reader.Close()

	disposition := "attachment"
	if content.Inline {
		disposition = "inline"
	}
	if content.Filename != "" {
		if formatted := mime.FormatMediaType(disposition, map[string]string{"filename": content.Filename}); formatted != "" {
			disposition = formatted
		}
	}

	h := w.Header()
	h.Set("Content-Type", content.MediaType)
	h.Set("Content-Disposition", disposition)
	h.Set("Cache-Control", "private, max-age=900")
	h.Set("X-Content-Type-Options", "nosniff")
	if content.SizeBytes > 0 {
		h.Set("Content-Length", strconv.FormatInt(content.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content.Reader); err != nil {
		s.log().Warn("stream attachment content", "path", r.URL.Path, "error", err)
	}
}

func attachmentInputFromRequest(req api.AttachmentRefRequest, creatorID string) (models.AttachmentInput, error) {
	kind, err := models.ParseAttachmentKind(req.Kind)
	if err != nil {
		return models.AttachmentInput{}, badRequestCode(err, ErrCodeInvalidKind)
	}
	in := models.AttachmentInput{Kind: kind, Name: req.Name, CreatorID: creatorID}
	switch kind {
	case models.AttachmentKindFile:
		if strings.TrimSpace(req.URL) != "" {
			return in, badRequest(fmt.Errorf("file attachment cannot carry a url"))
		}
		in.File = &models.FileData{
			BlobID:    strings.TrimSpace(req.BlobID),
			Filename:  req.Filename,
			MimeType:  req.MimeType,
			SizeBytes: req.SizeBytes,
			Image:     req.Image,
		}
	case models.AttachmentKindLink:
		if strings.TrimSpace(req.BlobID) != "" {
			return in, badRequest(fmt.Errorf("link attachment cannot reference a blob"))
		}
		in.Link = &models.LinkData{URL: strings.TrimSpace(req.URL)}
	}
	return in, nil
}

func classifyMultipartError(err error) error {
	if err == nil {
		return nil
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		return makeAPIError(http.StatusRequestEntityTooLarge, "invalid_argument", ErrCodeRequestTooLarge, fmt.Errorf("request body too large"))
	}
	return badRequest(err)
}

func attachmentResponse(a models.Attachment) api.AttachmentResponse {
	resp := api.AttachmentResponse{Attachment: a}
	if _, ok := a.BlobID(); !ok {
		return resp
	}
	base := "/v1/attachments/" + a.ID
	resp.DownloadURL = base + "/download"
	if a.File.Image != nil && a.File.Image.ThumbnailsExtension != "" {
		ext := a.File.Image.ThumbnailsExtension
		resp.ThumbnailURLs = &api.ThumbnailURLs{
			Outside360: base + "/thumbnails/outside-360." + ext,
			Outside720: base + "/thumbnails/outside-720." + ext,
		}
	}
	return resp
}

func attachmentResponses(attachments []models.Attachment) []api.AttachmentResponse {
	out := make([]api.AttachmentResponse, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, attachmentResponse(a))
	}
	return out
}

func deleteResponse(id string, result store.DeleteResult) api.DeleteResponse {
	resp := api.DeleteResponse{
		ID:              id,
		AttachmentIDs:   make([]string, 0, len(result.Attachments)),
		Blobs:           result.Blobs,
		OrphanedBlobIDs: result.OrphanedBlobIDs(),
	}
	for _, a := range result.Attachments {
		resp.AttachmentIDs = append(resp.AttachmentIDs, a.ID)
	}
	if resp.Blobs == nil {
		resp.Blobs = []models.BlobCount{}
	}
	if resp.OrphanedBlobIDs == nil {
		resp.OrphanedBlobIDs = []string{}
	}
	return resp
}
