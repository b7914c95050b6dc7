package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"tally/internal/api"
	"tally/internal/blobstore"
	"tally/internal/gc"
	"tally/internal/store"
)

type harness struct {
	t       *testing.T
	st      *store.Store
	blobs   *blobstore.MemoryStore
	queue   *gc.MemoryQueue
	handler http.Handler
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	t.Setenv(apiTokenEnvKey, "")
	t.Setenv(adminTokenEnvKey, "")

	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blobs := blobstore.NewMemoryStore()
	queue := gc.NewMemoryQueue()
	if opts.Collector == nil {
		opts.Collector = gc.New(st, blobs, gc.Options{Queue: queue})
	}
	srv, err := New("127.0.0.1:0", st, blobs, opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &harness{t: t, st: st, blobs: blobs, queue: queue, handler: srv.Handler()}
}

func (h *harness) request(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) decode(w *httptest.ResponseRecorder, wantStatus int, out any) {
	h.t.Helper()
	if w.Code != wantStatus {
		h.t.Fatalf("expected %d, got %d: %s", wantStatus, w.Code, w.Body.String())
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		h.t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
}

func (h *harness) expectError(w *httptest.ResponseRecorder, wantStatus, wantCode int) api.ErrorResponse {
	h.t.Helper()
	var errResp api.ErrorResponse
	h.decode(w, wantStatus, &errResp)
	if errResp.ErrorCode != wantCode {
		h.t.Fatalf("expected error_code %d, got %d (%s)", wantCode, errResp.ErrorCode, errResp.Error)
	}
	return errResp
}

func (h *harness) createExpense(headers ...string) string {
	h.t.Helper()
	var expense api.ExpenseResponse
	h.decode(h.request(http.MethodPost, "/v1/expenses", api.ExpenseCreateRequest{
		Name:        "Hotel",
		AmountCents: 12000,
		SpentOn:     "2026-03-01",
	}, headers...), http.StatusCreated, &expense)
	return expense.ID
}

type uploadPart struct {
	filename  string
	mediaType string
	content   []byte
}

func (h *harness) upload(expenseID string, names []string, parts []uploadPart, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range names {
		if err := mw.WriteField("name", name); err != nil {
			h.t.Fatalf("write name: %v", err)
		}
	}
	for _, part := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+part.filename+`"`)
		header.Set("Content-Type", part.mediaType)
		pw, err := mw.CreatePart(header)
		if err != nil {
			h.t.Fatalf("create part: %v", err)
		}
		if _, err := pw.Write(part.content); err != nil {
			h.t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		h.t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/expenses/"+expenseID+"/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) uploadOK(expenseID string, names []string, parts ...uploadPart) []api.AttachmentResponse {
	h.t.Helper()
	var created []api.AttachmentResponse
	h.decode(h.upload(expenseID, names, parts), http.StatusCreated, &created)
	return created
}

func pdfPart(content string) uploadPart {
	return uploadPart{filename: "receipt.pdf", mediaType: "application/pdf", content: []byte("%PDF-1.4 " + content)}
}

func pngPart(t *testing.T, width, height int) uploadPart {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, height/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return uploadPart{filename: "scan.png", mediaType: "image/png", content: buf.Bytes()}
}

func (h *harness) blobTotal(blobID string) (int64, bool) {
	h.t.Helper()
	ref, err := h.st.GetBlobReference(context.Background(), blobID)
	if err != nil {
		h.t.Fatalf("get blob reference %s: %v", blobID, err)
	}
	return ref.Total.Count(), ref.Total.IsOrphaned()
}

func TestUploadSharesOneBlobAcrossNames(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	created := h.uploadOK(expenseID, []string{"Invoice", "Invoice copy"}, pdfPart("a"))
	if len(created) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(created))
	}
	blobID, ok := created[0].BlobID()
	if !ok {
		t.Fatalf("expected file attachment, got %+v", created[0])
	}
	if other, _ := created[1].BlobID(); other != blobID {
		t.Fatalf("expected shared blob, got %s and %s", blobID, other)
	}
	if created[0].Name != "Invoice" || created[1].Name != "Invoice copy" {
		t.Fatalf("unexpected names: %q %q", created[0].Name, created[1].Name)
	}
	if created[0].DownloadURL != "/v1/attachments/"+created[0].ID+"/download" {
		t.Fatalf("unexpected download url %q", created[0].DownloadURL)
	}
	if total, _ := h.blobTotal(blobID); total != 2 {
		t.Fatalf("expected total 2, got %d", total)
	}
	if h.blobs.Len() != 1 {
		t.Fatalf("expected one stored blob, got %d", h.blobs.Len())
	}
}

func TestUploadSeveralFilesPairsNames(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	created := h.uploadOK(expenseID, []string{"First"}, pdfPart("a"), pdfPart("b"))
	if len(created) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(created))
	}
	if created[0].Name != "First" || created[1].Name != "receipt.pdf" {
		t.Fatalf("unexpected names: %q %q", created[0].Name, created[1].Name)
	}
	first, _ := created[0].BlobID()
	second, _ := created[1].BlobID()
	if first == second {
		t.Fatal("expected one blob per file")
	}
}

func TestUploadRejectsDisallowedMediaType(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	w := h.upload(expenseID, nil, []uploadPart{{filename: "notes.txt", mediaType: "text/plain", content: []byte("hello")}})
	h.expectError(w, http.StatusUnsupportedMediaType, ErrCodeInvalidMediaType)
	if h.blobs.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d", h.blobs.Len())
	}
}

func TestUploadWithOneBadPartStoresNothing(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	w := h.upload(expenseID, nil, []uploadPart{
		pdfPart("a"),
		{filename: "notes.txt", mediaType: "text/plain", content: []byte("hello")},
	})
	h.expectError(w, http.StatusUnsupportedMediaType, ErrCodeInvalidMediaType)

	var listed []api.AttachmentResponse
	h.decode(h.request(http.MethodGet, "/v1/expenses/"+expenseID+"/attachments", nil), http.StatusOK, &listed)
	if len(listed) != 0 {
		t.Fatalf("expected no attachments, got %d", len(listed))
	}
	if h.blobs.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d", h.blobs.Len())
	}
	info, err := h.st.StoreInfo(context.Background())
	if err != nil {
		t.Fatalf("store info: %v", err)
	}
	if info.Blobs != 0 {
		t.Fatalf("expected no blob rows, got %d", info.Blobs)
	}
}

func TestUploadRejectsLongName(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	w := h.upload(expenseID, []string{strings.Repeat("n", 129)}, []uploadPart{pdfPart("a")})
	h.expectError(w, http.StatusBadRequest, ErrCodeInvalidName)
	if h.blobs.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d", h.blobs.Len())
	}
}

func TestUploadToMissingExpense(t *testing.T) {
	h := newHarness(t, Options{})
	w := h.upload("ex-00000000", nil, []uploadPart{pdfPart("a")})
	h.expectError(w, http.StatusNotFound, ErrCodeExpenseNotFound)
	if h.blobs.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d", h.blobs.Len())
	}
}

func TestUploadRequiresFile(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	w := h.upload(expenseID, []string{"only a name"}, nil)
	h.expectError(w, http.StatusBadRequest, ErrCodeMissingRequired)
}

func TestDownloadHeaders(t *testing.T) {
	h := newHarness(t, Options{AllowedMediaTypes: []string{"application/pdf", "text/csv"}})
	expenseID := h.createExpense()

	pdf := h.uploadOK(expenseID, nil, pdfPart("body"))[0]
	w := h.request(http.MethodGet, pdf.DownloadURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); got != `inline; filename=receipt.pdf` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "private, max-age=900" {
		t.Fatalf("unexpected cache control %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("unexpected nosniff header %q", got)
	}
	if w.Body.String() != "%PDF-1.4 body" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}

	csv := h.uploadOK(expenseID, nil, uploadPart{filename: "lines.csv", mediaType: "text/csv", content: []byte("a,b\n")})[0]
	w = h.request(http.MethodGet, csv.DownloadURL, nil)
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename=lines.csv` {
		t.Fatalf("unexpected disposition %q", got)
	}
}

func TestUploadImageServesThumbnails(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	created := h.uploadOK(expenseID, nil, pngPart(t, 800, 400))
	if len(created) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(created))
	}
	att := created[0]
	if att.File.Image == nil || att.File.Image.Width != 800 || att.File.Image.Height != 400 || att.File.Image.ThumbnailsExtension != "png" {
		t.Fatalf("unexpected image meta: %+v", att.File.Image)
	}
	if att.ThumbnailURLs == nil {
		t.Fatal("expected thumbnail urls")
	}

	w := h.request(http.MethodGet, att.ThumbnailURLs.Outside360, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type %q", got)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if cfg.Width != 720 || cfg.Height != 360 {
		t.Fatalf("expected 720x360 thumbnail, got %dx%d", cfg.Width, cfg.Height)
	}

	base := "/v1/attachments/" + att.ID + "/thumbnails/"
	h.expectError(h.request(http.MethodGet, base+"outside-360.jpg", nil), http.StatusNotFound, ErrCodeInvalidVariant)
	h.expectError(h.request(http.MethodGet, base+"outside-999.png", nil), http.StatusNotFound, ErrCodeInvalidVariant)

	w = h.request(http.MethodGet, att.DownloadURL, nil)
	if got := w.Header().Get("Content-Disposition"); got != `inline; filename=scan.png` {
		t.Fatalf("unexpected disposition %q", got)
	}
}

func TestUndecodableImageIsKeptWithoutThumbnails(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	created := h.uploadOK(expenseID, nil, uploadPart{filename: "broken.png", mediaType: "image/png", content: []byte("not an image")})
	if created[0].File.Image != nil || created[0].ThumbnailURLs != nil {
		t.Fatalf("expected no image metadata, got %+v", created[0].File.Image)
	}
	h.expectError(h.request(http.MethodGet, "/v1/attachments/"+created[0].ID+"/thumbnails/outside-360.png", nil), http.StatusNotFound, ErrCodeAttachmentNotFound)
}

func TestCreateRefCountsAndRejectsOrphans(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	original := h.uploadOK(expenseID, nil, pdfPart("a"))[0]
	blobID, _ := original.BlobID()

	var ref api.AttachmentResponse
	h.decode(h.request(http.MethodPost, "/v1/expenses/"+expenseID+"/attachments/refs", api.AttachmentRefRequest{
		Kind:     "file",
		Name:     "Same receipt",
		BlobID:   blobID,
		Filename: "receipt.pdf",
		MimeType: "application/pdf",
	}), http.StatusCreated, &ref)
	if total, _ := h.blobTotal(blobID); total != 2 {
		t.Fatalf("expected total 2, got %d", total)
	}

	for _, id := range []string{original.ID, ref.ID} {
		h.decode(h.request(http.MethodDelete, "/v1/attachments/"+id, nil), http.StatusOK, nil)
	}
	if _, orphaned := h.blobTotal(blobID); !orphaned {
		t.Fatal("expected blob orphaned")
	}

	w := h.request(http.MethodPost, "/v1/expenses/"+expenseID+"/attachments/refs", api.AttachmentRefRequest{
		Kind:   "file",
		Name:   "Too late",
		BlobID: blobID,
	})
	h.expectError(w, http.StatusConflict, ErrCodeBlobNotAvailable)

	w = h.request(http.MethodPost, "/v1/expenses/"+expenseID+"/attachments/refs", api.AttachmentRefRequest{
		Kind:   "file",
		Name:   "Unknown",
		BlobID: blobstore.NewBlobID(),
	})
	h.expectError(w, http.StatusConflict, ErrCodeBlobNotAvailable)
}

func TestCreateRefValidation(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	path := "/v1/expenses/" + expenseID + "/attachments/refs"

	h.expectError(h.request(http.MethodPost, path, api.AttachmentRefRequest{Kind: "video", Name: "x"}), http.StatusBadRequest, ErrCodeInvalidKind)
	h.expectError(h.request(http.MethodPost, path, api.AttachmentRefRequest{Kind: "file", Name: "x", BlobID: "../etc"}), http.StatusBadRequest, ErrCodeInvalidID)
	h.expectError(h.request(http.MethodPost, path, api.AttachmentRefRequest{Kind: "link", Name: "x", URL: "https://x", BlobID: blobstore.NewBlobID()}), http.StatusBadRequest, ErrCodeInvalidArgument)
	h.expectError(h.request(http.MethodPost, path, api.AttachmentRefRequest{Kind: "link", Name: " "}), http.StatusBadRequest, ErrCodeMissingRequired)
}

func TestLinkAttachmentHasNoContent(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()

	var link api.AttachmentResponse
	h.decode(h.request(http.MethodPost, "/v1/expenses/"+expenseID+"/attachments/refs", api.AttachmentRefRequest{
		Kind: "link",
		Name: "Booking",
		URL:  "https://example.com/booking/42",
	}), http.StatusCreated, &link)
	if link.Link == nil || link.Link.URL != "https://example.com/booking/42" || link.DownloadURL != "" {
		t.Fatalf("unexpected link attachment: %+v", link)
	}
	h.expectError(h.request(http.MethodGet, "/v1/attachments/"+link.ID+"/download", nil), http.StatusNotFound, ErrCodeAttachmentNotFound)

	var result api.DeleteResponse
	h.decode(h.request(http.MethodDelete, "/v1/attachments/"+link.ID, nil), http.StatusOK, &result)
	if len(result.Blobs) != 0 || len(result.OrphanedBlobIDs) != 0 {
		t.Fatalf("link delete must not touch blobs: %+v", result)
	}
}

func TestBatchCreateIsAllOrNothing(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	original := h.uploadOK(expenseID, nil, pdfPart("a"))[0]
	blobID, _ := original.BlobID()
	path := "/v1/expenses/" + expenseID + "/attachments/batch"

	w := h.request(http.MethodPost, path, api.AttachmentBatchRequest{Items: []api.AttachmentRefRequest{
		{Kind: "file", Name: "copy", BlobID: blobID},
		{Kind: "file", Name: "ghost", BlobID: blobstore.NewBlobID()},
	}})
	h.expectError(w, http.StatusConflict, ErrCodeBlobNotAvailable)
	if total, _ := h.blobTotal(blobID); total != 1 {
		t.Fatalf("failed batch must not change counters, got %d", total)
	}

	var created []api.AttachmentResponse
	h.decode(h.request(http.MethodPost, path, api.AttachmentBatchRequest{Items: []api.AttachmentRefRequest{
		{Kind: "file", Name: "copy 1", BlobID: blobID},
		{Kind: "file", Name: "copy 2", BlobID: blobID},
		{Kind: "link", Name: "site", URL: "https://example.com"},
	}}), http.StatusCreated, &created)
	if len(created) != 3 {
		t.Fatalf("expected 3 attachments, got %d", len(created))
	}
	if total, _ := h.blobTotal(blobID); total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}

	h.expectError(h.request(http.MethodPost, path, api.AttachmentBatchRequest{}), http.StatusBadRequest, ErrCodeMissingRequired)
}

func TestDeleteManyAttachments(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	shared := h.uploadOK(expenseID, []string{"one", "two", "three"}, pdfPart("a"))
	single := h.uploadOK(expenseID, nil, pdfPart("b"))[0]
	sharedBlob, _ := shared[0].BlobID()
	singleBlob, _ := single.BlobID()

	var result api.DeleteResponse
	h.decode(h.request(http.MethodDelete, "/v1/expenses/"+expenseID+"/attachments?ids="+shared[0].ID+","+shared[1].ID, nil), http.StatusOK, &result)
	if len(result.AttachmentIDs) != 2 || len(result.OrphanedBlobIDs) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if total, _ := h.blobTotal(sharedBlob); total != 1 {
		t.Fatalf("expected total 1, got %d", total)
	}

	h.decode(h.request(http.MethodDelete, "/v1/expenses/"+expenseID+"/attachments", nil), http.StatusOK, &result)
	if len(result.AttachmentIDs) != 2 || len(result.OrphanedBlobIDs) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, orphaned := h.blobTotal(singleBlob); !orphaned {
		t.Fatal("expected single blob orphaned")
	}
	if h.queue.Len() != 2 {
		t.Fatalf("expected 2 queued blobs, got %d", h.queue.Len())
	}

	h.expectError(h.request(http.MethodDelete, "/v1/expenses/"+expenseID+"/attachments?ids=nope", nil), http.StatusBadRequest, ErrCodeInvalidID)
}

func TestRenameAttachment(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	att := h.uploadOK(expenseID, nil, pdfPart("a"))[0]
	blobID, _ := att.BlobID()

	var renamed api.AttachmentResponse
	h.decode(h.request(http.MethodPatch, "/v1/attachments/"+att.ID, api.AttachmentRenameRequest{Name: "  Taxi  "}), http.StatusOK, &renamed)
	if renamed.Name != "Taxi" {
		t.Fatalf("expected trimmed name, got %q", renamed.Name)
	}
	if total, _ := h.blobTotal(blobID); total != 1 {
		t.Fatalf("rename must not change counter, got %d", total)
	}
	h.expectError(h.request(http.MethodPatch, "/v1/attachments/"+att.ID, api.AttachmentRenameRequest{Name: ""}), http.StatusBadRequest, ErrCodeMissingRequired)
	h.expectError(h.request(http.MethodPatch, "/v1/attachments/at-zzzzzzzz", api.AttachmentRenameRequest{Name: "x"}), http.StatusNotFound, ErrCodeAttachmentNotFound)
}

func TestDeleteExpenseCascades(t *testing.T) {
	h := newHarness(t, Options{})
	keep := h.createExpense()
	drop := h.createExpense()
	kept := h.uploadOK(keep, nil, pdfPart("keep"))[0]
	keptBlob, _ := kept.BlobID()
	dropped := h.uploadOK(drop, []string{"a", "b"}, pdfPart("drop"))
	droppedBlob, _ := dropped[0].BlobID()

	var ref api.AttachmentResponse
	h.decode(h.request(http.MethodPost, "/v1/expenses/"+drop+"/attachments/refs", api.AttachmentRefRequest{
		Kind: "file", Name: "shared", BlobID: keptBlob,
	}), http.StatusCreated, &ref)

	var result api.DeleteResponse
	h.decode(h.request(http.MethodDelete, "/v1/expenses/"+drop, nil), http.StatusOK, &result)
	if result.ID != drop || len(result.AttachmentIDs) != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.OrphanedBlobIDs) != 1 || result.OrphanedBlobIDs[0] != droppedBlob {
		t.Fatalf("expected only %s orphaned, got %v", droppedBlob, result.OrphanedBlobIDs)
	}
	if total, _ := h.blobTotal(keptBlob); total != 1 {
		t.Fatalf("expected shared blob back to 1, got %d", total)
	}

	h.expectError(h.request(http.MethodGet, "/v1/expenses/"+drop, nil), http.StatusNotFound, ErrCodeExpenseNotFound)
	h.expectError(h.request(http.MethodDelete, "/v1/expenses/"+drop, nil), http.StatusNotFound, ErrCodeExpenseNotFound)
	h.expectError(h.request(http.MethodGet, "/v1/attachments/"+dropped[0].ID, nil), http.StatusNotFound, ErrCodeAttachmentNotFound)
}

func TestUpdateExpenseKeepsAttachments(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	att := h.uploadOK(expenseID, nil, pdfPart("fare"))[0]
	blobID, _ := att.BlobID()

	name := "Hotel and breakfast"
	amount := int64(15500)
	spentOn := "2026-03-02"
	var updated api.ExpenseResponse
	h.decode(h.request(http.MethodPatch, "/v1/expenses/"+expenseID, api.ExpenseUpdateRequest{
		Name: &name, AmountCents: &amount, SpentOn: &spentOn,
	}), http.StatusOK, &updated)
	if updated.Name != name || updated.AmountCents != amount || updated.SpentOn != spentOn || updated.Currency != "EUR" {
		t.Fatalf("unexpected expense: %+v", updated)
	}
	if total, _ := h.blobTotal(blobID); total != 1 {
		t.Fatalf("expected counter unchanged, got %d", total)
	}
	var listed []api.AttachmentResponse
	h.decode(h.request(http.MethodGet, "/v1/expenses/"+expenseID+"/attachments", nil), http.StatusOK, &listed)
	if len(listed) != 1 || listed[0].ID != att.ID {
		t.Fatalf("expected attachment kept, got %+v", listed)
	}

	bad := "someday"
	h.expectError(h.request(http.MethodPatch, "/v1/expenses/"+expenseID, api.ExpenseUpdateRequest{SpentOn: &bad}), http.StatusBadRequest, ErrCodeInvalidArgument)
	negative := int64(-5)
	h.expectError(h.request(http.MethodPatch, "/v1/expenses/"+expenseID, api.ExpenseUpdateRequest{AmountCents: &negative}), http.StatusBadRequest, ErrCodeInvalidArgument)
	h.expectError(h.request(http.MethodPatch, "/v1/expenses/ex-00000000", api.ExpenseUpdateRequest{Name: &name}), http.StatusNotFound, ErrCodeExpenseNotFound)
}

func TestExpenseValidation(t *testing.T) {
	h := newHarness(t, Options{})
	h.expectError(h.request(http.MethodPost, "/v1/expenses", api.ExpenseCreateRequest{Name: "x", AmountCents: -1}), http.StatusBadRequest, ErrCodeInvalidArgument)
	h.expectError(h.request(http.MethodPost, "/v1/expenses", api.ExpenseCreateRequest{Name: "x", SpentOn: "yesterday"}), http.StatusBadRequest, ErrCodeInvalidArgument)
	h.expectError(h.request(http.MethodGet, "/v1/expenses/not-an-id", nil), http.StatusBadRequest, ErrCodeInvalidID)
	h.expectError(h.request(http.MethodGet, "/v1/expenses?limit=abc", nil), http.StatusBadRequest, ErrCodeInvalidQuery)

	h.createExpense()
	var list []api.ExpenseResponse
	h.decode(h.request(http.MethodGet, "/v1/expenses?limit=10", nil), http.StatusOK, &list)
	if len(list) != 1 || list[0].Currency != "EUR" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestAuthorizationHidesForeignAttachments(t *testing.T) {
	owners := map[string]string{}
	h := newHarness(t, Options{Authorize: func(_ context.Context, actor, ownerID string) bool {
		owner, ok := owners[ownerID]
		return !ok || owner == actor
	}})
	expenseID := h.createExpense()
	att := h.uploadOK(expenseID, nil, pdfPart("secret"))[0]
	owners[expenseID] = "alice"

	h.expectError(h.request(http.MethodGet, "/v1/attachments/"+att.ID, nil, actorIDHeader, "mallory"), http.StatusNotFound, ErrCodeAttachmentNotFound)
	h.expectError(h.request(http.MethodGet, att.DownloadURL, nil, actorIDHeader, "mallory"), http.StatusNotFound, ErrCodeAttachmentNotFound)
	h.expectError(h.request(http.MethodDelete, "/v1/attachments/"+att.ID, nil, actorIDHeader, "mallory"), http.StatusNotFound, ErrCodeAttachmentNotFound)
	h.expectError(h.request(http.MethodGet, "/v1/expenses/"+expenseID+"/attachments", nil, actorIDHeader, "mallory"), http.StatusNotFound, ErrCodeExpenseNotFound)

	w := h.upload(expenseID, nil, []uploadPart{pdfPart("x")}, actorIDHeader, "mallory")
	h.expectError(w, http.StatusForbidden, ErrCodeForbidden)
	w = h.request(http.MethodPost, "/v1/expenses/"+expenseID+"/attachments/refs", api.AttachmentRefRequest{Kind: "link", Name: "x", URL: "https://x"}, actorIDHeader, "mallory")
	h.expectError(w, http.StatusForbidden, ErrCodeForbidden)

	var list []api.ExpenseResponse
	h.decode(h.request(http.MethodGet, "/v1/expenses", nil, actorIDHeader, "mallory"), http.StatusOK, &list)
	if len(list) != 0 {
		t.Fatalf("expected foreign expense hidden, got %d", len(list))
	}

	h.decode(h.request(http.MethodGet, "/v1/attachments/"+att.ID, nil, actorIDHeader, "alice"), http.StatusOK, nil)
}

func TestAdminGCBlobs(t *testing.T) {
	h := newHarness(t, Options{})
	expenseID := h.createExpense()
	att := h.uploadOK(expenseID, nil, pdfPart("12345"))[0]
	blobID, _ := att.BlobID()
	h.decode(h.request(http.MethodDelete, "/v1/attachments/"+att.ID, nil), http.StatusOK, nil)

	h.expectError(h.request(http.MethodPost, "/v1/admin/gc-blobs", api.BlobGCRequest{}), http.StatusBadRequest, ErrCodeMissingRequired)
	h.expectError(h.request(http.MethodPost, "/v1/admin/gc-blobs", api.BlobGCRequest{DryRun: true, BatchSize: -1}), http.StatusBadRequest, ErrCodeInvalidArgument)

	var dry api.BlobGCResponse
	h.decode(h.request(http.MethodPost, "/v1/admin/gc-blobs", api.BlobGCRequest{DryRun: true}), http.StatusOK, &dry)
	if !dry.DryRun || dry.CandidateCount != 1 || dry.DeletedCount != 0 || dry.ReclaimedBytes != 14 {
		t.Fatalf("unexpected dry run: %+v", dry)
	}
	if h.blobs.Len() != 1 {
		t.Fatal("dry run must keep bytes")
	}

	var report api.BlobGCResponse
	h.decode(h.request(http.MethodPost, "/v1/admin/gc-blobs", api.BlobGCRequest{}, "X-Confirm", "true"), http.StatusOK, &report)
	if report.DeletedCount != 1 || report.FailedCount != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if h.blobs.Len() != 0 {
		t.Fatalf("expected bytes reclaimed, got %d", h.blobs.Len())
	}
	if _, err := h.st.GetBlobReference(context.Background(), blobID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected counter row removed, got %v", err)
	}
}

func TestAdminGCWithoutCollector(t *testing.T) {
	t.Setenv(apiTokenEnvKey, "")
	t.Setenv(adminTokenEnvKey, "")
	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	srv, err := New("127.0.0.1:0", st, blobstore.NewMemoryStore(), Options{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/gc-blobs", strings.NewReader(`{"dry_run":true}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", w.Code)
	}
}

func TestStorageFailureReturns503(t *testing.T) {
	h := newHarness(t, Options{})
	h.createExpense()
	if err := h.st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	errResp := h.expectError(h.request(http.MethodGet, "/v1/expenses", nil, requestIDHeader, "req-1"), http.StatusServiceUnavailable, ErrCodeStorageUnavailable)
	if errResp.Error != "storage unavailable" {
		t.Fatalf("expected generic message, got %q", errResp.Error)
	}
	if errResp.RequestID != "req-1" {
		t.Fatalf("expected request id echoed, got %q", errResp.RequestID)
	}
}

func TestInfoAndMetrics(t *testing.T) {
	h := newHarness(t, Options{BlobBackend: "memory", Registry: prometheus.NewRegistry()})
	expenseID := h.createExpense()
	h.uploadOK(expenseID, []string{"a", "b"}, pdfPart("x"))

	var info api.InfoResponse
	h.decode(h.request(http.MethodGet, "/v1/info", nil), http.StatusOK, &info)
	if info.Driver != "sqlite" || info.BlobBackend != "memory" || info.SchemaVersion < 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Expenses != 1 || info.Attachments != 2 || info.Blobs != 1 || info.OrphanedBlobs != 0 {
		t.Fatalf("unexpected counts: %+v", info)
	}

	w := h.request(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "tally_http_requests_total") || !strings.Contains(body, `route="GET /v1/info"`) {
		t.Fatalf("expected request metrics, got:\n%s", body)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	h := newHarness(t, Options{})
	t.Setenv(apiTokenEnvKey, "secret")
	srv, err := New("127.0.0.1:0", h.st, h.blobs, Options{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/info", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id on rejected request")
	}
}
