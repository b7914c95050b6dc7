package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check, info and metrics.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/info", s.handleInfo)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	// Expenses.
	mux.HandleFunc("POST /v1/expenses", s.handleCreateExpense)
	mux.HandleFunc("GET /v1/expenses", s.handleListExpenses)
	mux.HandleFunc("GET /v1/expenses/{id}", s.handleGetExpense)
	mux.HandleFunc("PATCH /v1/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /v1/expenses/{id}", s.handleDeleteExpense)

	// Attachments of one expense.
	mux.HandleFunc("GET /v1/expenses/{id}/attachments", s.handleListAttachments)
	mux.HandleFunc("POST /v1/expenses/{id}/attachments", s.handleUploadAttachments)
	mux.HandleFunc("POST /v1/expenses/{id}/attachments/refs", s.handleCreateAttachmentRef)
	mux.HandleFunc("POST /v1/expenses/{id}/attachments/batch", s.handleCreateAttachmentBatch)
	mux.HandleFunc("DELETE /v1/expenses/{id}/attachments", s.handleDeleteAttachments)

	// Single attachment.
	mux.HandleFunc("GET /v1/attachments/{id}", s.handleGetAttachment)
	mux.HandleFunc("PATCH /v1/attachments/{id}", s.handleRenameAttachment)
	mux.HandleFunc("DELETE /v1/attachments/{id}", s.handleDeleteAttachment)
	mux.HandleFunc("GET /v1/attachments/{id}/download", s.handleDownloadAttachment)
	mux.HandleFunc("GET /v1/attachments/{id}/thumbnails/{file}", s.handleDownloadThumbnail)

	// Admin.
	mux.HandleFunc("POST /v1/admin/gc-blobs", s.handleAdminGCBlobs)

	return mux
}
