package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"

	"tally/internal/blobstore"
	"tally/internal/gc"
	"tally/internal/models"
	"tally/internal/store"
	"tally/internal/thumbnail"
)

const (
	defaultMaxNameLength               = 128
	defaultMaxUploadBytes              = 100 << 20 // 100 MiB
	defaultMultipartMemory             = 8 << 20   // 8 MiB
	fallbackAttachmentContentMediaType = "application/octet-stream"
)

// DefaultAllowedMediaTypes is the upload allow-list used when none is configured.
var DefaultAllowedMediaTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/webp",
	"image/gif",
}

// inlineMediaTypes are served without a download disposition.
var inlineMediaTypes = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/webp":      {},
	"image/gif":       {},
}

// AttachmentService orchestrates attachment workflows and validation. The
// store keeps blob counters consistent; the service owns caller-side checks,
// physical bytes and the hand-off of orphaned blobs to the collector.
type AttachmentService struct {
	expenses    store.ExpenseStore
	attachments store.AttachmentStore
	blobs       blobstore.BlobStore
	collector   *gc.Collector
	logger      *slog.Logger

	allowedMediaTypes map[string]struct{}
	maxNameLength     int
}

// AttachmentContent describes a stream served to the client.
type AttachmentContent struct {
	Reader    io.ReadCloser
	SizeBytes int64
	MediaType string
	Filename  string
	Inline    bool
}

// UploadInput describes one uploaded file. Every entry of Names becomes an
// attachment referencing the same blob.
type UploadInput struct {
	Names     []string
	Filename  string
	MediaType string
	CreatorID string
}

// NewAttachmentService constructs an AttachmentService. collector may be nil,
// in which case orphaned blobs wait for the periodic sweep.
func NewAttachmentService(expenses store.ExpenseStore, attachments store.AttachmentStore, blobs blobstore.BlobStore, collector *gc.Collector, logger *slog.Logger) *AttachmentService {
	svc := &AttachmentService{
		expenses:    expenses,
		attachments: attachments,
		blobs:       blobs,
		collector:   collector,
		logger:      logger,
	}
	svc.ConfigurePolicy(nil, 0)
	return svc
}

// ConfigurePolicy overrides the media allow-list and the name length limit.
func (s *AttachmentService) ConfigurePolicy(allowedMediaTypes []string, maxNameLength int) {
	if s == nil {
		return
	}
	if len(allowedMediaTypes) == 0 {
		allowedMediaTypes = DefaultAllowedMediaTypes
	}
	normalized := map[string]struct{}{}
	for _, raw := range allowedMediaTypes {
		mediaType, err := normalizeMediaType(raw)
		if err != nil || mediaType == "" {
			continue
		}
		normalized[mediaType] = struct{}{}
	}
	s.allowedMediaTypes = normalized
	if maxNameLength <= 0 {
		maxNameLength = defaultMaxNameLength
	}
	s.maxNameLength = maxNameLength
}

// Upload stores content as a new blob and attaches it under every requested
// name in one transaction. The bytes are removed again if the transaction
// fails.
func (s *AttachmentService) Upload(ctx context.Context, expenseID string, in UploadInput, content io.ReadSeeker) ([]models.Attachment, error) {
	return s.UploadMany(ctx, expenseID, []UploadPart{{UploadInput: in, Content: content}})
}

// UploadPart is one file of a multi-file upload.
type UploadPart struct {
	UploadInput
	Content io.ReadSeeker
}

type preparedUpload struct {
	names     []string
	filename  string
	mediaType string
	creatorID string
	content   io.ReadSeeker
}

// UploadMany validates every part before storing any bytes, then registers
// all blobs and attachments in one transaction. On failure no attachment is
// created and the stored bytes are discarded.
func (s *AttachmentService) UploadMany(ctx context.Context, expenseID string, parts []UploadPart) ([]models.Attachment, error) {
	if len(parts) == 0 {
		return nil, badRequestCode(fmt.Errorf("no file was uploaded"), ErrCodeMissingRequired)
	}
	prepared := make([]preparedUpload, 0, len(parts))
	for _, part := range parts {
		p, err := s.prepareUpload(part)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}

	if _, err := s.expenses.GetExpense(ctx, expenseID); err != nil {
		return nil, storeError(err)
	}

	var stored []string
	discard := func() {
		for _, blobID := range stored {
			s.discardBlob(ctx, blobID)
		}
	}
	blobs := make([]store.NewBlob, 0, len(prepared))
	for _, p := range prepared {
		put, err := s.blobs.Put(ctx, p.content)
		if err != nil {
			discard()
			return nil, blobStoreFailure(fmt.Errorf("store upload: %w", err))
		}
		stored = append(stored, put.BlobID)

		var image *models.ImageMeta
		if thumbnail.IsImage(p.mediaType) {
			image, err = s.storeThumbnails(ctx, put.BlobID, p.mediaType, p.content)
			if err != nil {
				discard()
				return nil, blobStoreFailure(err)
			}
		}

		items := make([]models.AttachmentInput, 0, len(p.names))
		for _, name := range p.names {
			items = append(items, models.AttachmentInput{
				Kind: models.AttachmentKindFile,
				Name: name,
				File: &models.FileData{
					BlobID:    put.BlobID,
					Filename:  p.filename,
					MimeType:  p.mediaType,
					SizeBytes: put.SizeBytes,
					Image:     image,
				},
				CreatorID: p.creatorID,
			})
		}
		blobs = append(blobs, store.NewBlob{Blob: models.BlobReference{ID: put.BlobID, SizeBytes: put.SizeBytes}, Items: items})
		s.log().Debug("upload stored", "expense_id", expenseID, "blob_id", put.BlobID, "size_bytes", put.SizeBytes, "sha256", put.SHA256)
	}

	created, err := s.attachments.CreateAttachmentsWithBlobs(ctx, expenseID, blobs)
	if err != nil {
		discard()
		return nil, storeError(err)
	}
	s.log().Info("attachments uploaded", "expense_id", expenseID, "blob_ids", stored, "count", len(created))
	return created, nil
}

func (s *AttachmentService) prepareUpload(part UploadPart) (preparedUpload, error) {
	names := part.Names
	if len(names) == 0 {
		names = []string{part.Filename}
	}
	p := preparedUpload{
		names:     make([]string, 0, len(names)),
		filename:  sanitizeFilename(part.Filename),
		creatorID: part.CreatorID,
		content:   part.Content,
	}
	for _, raw := range names {
		name, err := normalizeName(raw, s.maxNameLength)
		if err != nil {
			return p, err
		}
		p.names = append(p.names, name)
	}
	mediaType, err := s.resolveMediaType(part.MediaType)
	if err != nil {
		return p, err
	}
	p.mediaType = mediaType
	return p, nil
}

// storeThumbnails renders previews next to the blob. An image that cannot be
// decoded is kept as a plain file without previews.
func (s *AttachmentService) storeThumbnails(ctx context.Context, blobID, mediaType string, content io.ReadSeeker) (*models.ImageMeta, error) {
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}
	set, err := thumbnail.Render(content, mediaType)
	if err != nil {
		s.log().Warn("thumbnail generation skipped", "blob_id", blobID, "media_type", mediaType, "error", err)
		return nil, nil
	}
	for _, file := range set.Files {
		if err := s.blobs.PutThumbnail(ctx, blobID, file.FileName, bytes.NewReader(file.Data)); err != nil {
			return nil, fmt.Errorf("store thumbnail %s: %w", file.FileName, err)
		}
	}
	return set.Meta(), nil
}

// discardBlob removes bytes that never became referenced. Failures leave an
// unregistered object behind and are only logged.
func (s *AttachmentService) discardBlob(ctx context.Context, blobID string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), blobID); err != nil {
		s.log().Warn("discard unreferenced blob", "blob_id", blobID, "error", err)
	}
}

// CreateRefs attaches existing blobs or links. A single item uses the
// single-row path; several items share one transaction.
func (s *AttachmentService) CreateRefs(ctx context.Context, expenseID string, items []models.AttachmentInput) ([]models.Attachment, error) {
	if len(items) == 0 {
		return nil, badRequestCode(fmt.Errorf("at least one attachment is required"), ErrCodeMissingRequired)
	}
	for i := range items {
		name, err := normalizeName(items[i].Name, s.maxNameLength)
		if err != nil {
			return nil, err
		}
		items[i].Name = name
		if err := items[i].Validate(); err != nil {
			return nil, badRequest(err)
		}
		if items[i].File != nil {
			if !validateBlobID(items[i].File.BlobID) {
				return nil, badRequestCode(fmt.Errorf("invalid blob_id: %s", items[i].File.BlobID), ErrCodeInvalidID)
			}
			if items[i].File.MimeType != "" {
				mediaType, err := s.resolveMediaType(items[i].File.MimeType)
				if err != nil {
					return nil, err
				}
				items[i].File.MimeType = mediaType
			}
			items[i].File.Filename = sanitizeFilename(items[i].File.Filename)
		}
	}

	if len(items) == 1 {
		created, err := s.attachments.CreateAttachment(ctx, expenseID, items[0])
		if err != nil {
			return nil, storeError(err)
		}
		return []models.Attachment{*created}, nil
	}
	created, err := s.attachments.CreateAttachments(ctx, expenseID, items)
	if err != nil {
		return nil, storeError(err)
	}
	return created, nil
}

// List returns the attachments of an expense.
func (s *AttachmentService) List(ctx context.Context, expenseID string) ([]models.Attachment, error) {
	out, err := s.attachments.ListAttachmentsByOwner(ctx, expenseID)
	if err != nil {
		return nil, storeError(err)
	}
	if out == nil {
		out = []models.Attachment{}
	}
	return out, nil
}

// Get returns one attachment.
func (s *AttachmentService) Get(ctx context.Context, id string) (*models.Attachment, error) {
	attachment, err := s.attachments.GetAttachment(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return attachment, nil
}

// Rename changes the display name only.
func (s *AttachmentService) Rename(ctx context.Context, id, rawName string) (*models.Attachment, error) {
	name, err := normalizeName(rawName, s.maxNameLength)
	if err != nil {
		return nil, err
	}
	attachment, err := s.attachments.RenameAttachment(ctx, id, name)
	if err != nil {
		return nil, storeError(err)
	}
	return attachment, nil
}

// Delete removes one attachment and queues its blob when it became orphaned.
func (s *AttachmentService) Delete(ctx context.Context, id string) (store.DeleteResult, error) {
	result, err := s.attachments.DeleteAttachment(ctx, id)
	if err != nil {
		return store.DeleteResult{}, storeError(err)
	}
	s.collector.Enqueue(ctx, result.OrphanedBlobIDs()...)
	return result, nil
}

// DeleteMany removes the listed attachments of an expense, or all of them
// when ids is empty.
func (s *AttachmentService) DeleteMany(ctx context.Context, expenseID string, ids []string) (store.DeleteResult, error) {
	result, err := s.attachments.DeleteAttachments(ctx, store.AttachmentFilter{OwnerID: expenseID, IDs: ids})
	if err != nil {
		return store.DeleteResult{}, storeError(err)
	}
	s.collector.Enqueue(ctx, result.OrphanedBlobIDs()...)
	return result, nil
}

// DeleteExpense deletes an expense with all of its attachments.
func (s *AttachmentService) DeleteExpense(ctx context.Context, expenseID string) (store.DeleteResult, error) {
	result, err := s.expenses.DeleteExpense(ctx, expenseID)
	if err != nil {
		return store.DeleteResult{}, storeError(err)
	}
	s.collector.Enqueue(ctx, result.OrphanedBlobIDs()...)
	return result, nil
}

// OpenContent opens the original bytes of a file attachment.
func (s *AttachmentService) OpenContent(ctx context.Context, attachment *models.Attachment) (*AttachmentContent, error) {
	blobID, ok := attachment.BlobID()
	if !ok {
		return nil, notFoundCode(fmt.Errorf("attachment %s has no content", attachment.ID), ErrCodeAttachmentNotFound)
	}
	reader, err := s.blobs.Open(ctx, blobID)
	if err != nil {
		return nil, s.openError(blobID, err)
	}

	mediaType := attachment.File.MimeType
	if mediaType == "" {
		mediaType = fallbackAttachmentContentMediaType
	}
	_, inline := inlineMediaTypes[mediaType]
	filename := attachment.File.Filename
	if filename == "" {
		filename = attachment.Name
	}
	return &AttachmentContent{
		Reader:    reader,
		SizeBytes: attachment.File.SizeBytes,
		MediaType: mediaType,
		Filename:  filename,
		Inline:    inline || attachment.File.Image != nil,
	}, nil
}

// OpenThumbnail opens a preview such as "outside-360.jpg". Only generated
// variants with the recorded extension are served.
func (s *AttachmentService) OpenThumbnail(ctx context.Context, attachment *models.Attachment, file string) (*AttachmentContent, error) {
	blobID, ok := attachment.BlobID()
	if !ok || attachment.File.Image == nil || attachment.File.Image.ThumbnailsExtension == "" {
		return nil, notFoundCode(fmt.Errorf("attachment %s has no thumbnails", attachment.ID), ErrCodeAttachmentNotFound)
	}
	variant, ext, found := strings.Cut(file, ".")
	if !found || !slices.Contains(thumbnail.VariantNames(), variant) || ext != attachment.File.Image.ThumbnailsExtension {
		return nil, notFoundCode(fmt.Errorf("unknown thumbnail %q", file), ErrCodeInvalidVariant)
	}

	reader, err := s.blobs.OpenThumbnail(ctx, blobID, file)
	if err != nil {
		return nil, s.openError(blobID, err)
	}
	mediaType := "image/jpeg"
	if ext == "png" {
		mediaType = "image/png"
	}
	return &AttachmentContent{Reader: reader, MediaType: mediaType, Filename: file, Inline: true}, nil
}

func (s *AttachmentService) openError(blobID string, err error) error {
	if errors.Is(err, blobstore.ErrNotFound) {
		s.log().Warn("referenced blob bytes missing", "blob_id", blobID)
		return notFoundCode(fmt.Errorf("blob content not found"), ErrCodeBlobNotFound)
	}
	return blobStoreFailure(fmt.Errorf("open blob %s: %w", blobID, err))
}

func (s *AttachmentService) resolveMediaType(raw string) (string, error) {
	mediaType, err := normalizeMediaType(raw)
	if err != nil {
		return "", err
	}
	if mediaType == "" {
		mediaType = fallbackAttachmentContentMediaType
	}
	if _, ok := s.allowedMediaTypes[mediaType]; !ok {
		return "", unsupportedMediaType(fmt.Errorf("media type %s is not allowed", mediaType))
	}
	return mediaType, nil
}

func (s *AttachmentService) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// sanitizeFilename keeps the base name of a client supplied file name.
func sanitizeFilename(raw string) string {
	name := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
