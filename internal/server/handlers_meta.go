package server

import (
	"net/http"

	"tally/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.StoreInfo(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := api.InfoResponse{
		Driver:          string(info.Driver),
		SchemaVersion:   info.SchemaVersion,
		BlobBackend:     s.blobBackend,
		Expenses:        info.Expenses,
		Attachments:     info.Attachments,
		Blobs:           info.Blobs,
		OrphanedBlobs:   info.OrphanedBlobs,
		ReferencedBytes: info.ReferencedBytes,
	}
	s.writeJSON(w, http.StatusOK, resp)
}
