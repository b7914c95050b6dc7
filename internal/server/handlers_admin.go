package server

import (
	"fmt"
	"net/http"

	"tally/internal/api"
	"tally/internal/gc"
)

func (s *Server) handleAdminGCBlobs(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.writeServiceError(w, r, notImplemented(fmt.Errorf("blob garbage collection is not configured")))
		return
	}

	var req api.BlobGCRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if req.BatchSize < 0 {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("batch_size must be >= 0"), ErrCodeInvalidArgument))
		return
	}
	if !req.DryRun && r.Header.Get("X-Confirm") != "true" {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("non-dry-run requires X-Confirm: true header"), ErrCodeMissingRequired))
		return
	}
	if !s.acquireLimiter(s.gcLimiter, w, r, "blob gc") {
		return
	}
	defer s.releaseLimiter(s.gcLimiter)

	report, err := s.collector.Sweep(r.Context(), gc.SweepOptions{BatchSize: req.BatchSize, DryRun: req.DryRun})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := api.BlobGCResponse{
		CandidateCount: report.CandidateCount,
		DeletedCount:   report.DeletedCount,
		FailedCount:    report.FailedCount,
		ReclaimedBytes: report.ReclaimedBytes,
		DryRun:         report.DryRun,
		FailedBlobIDs:  report.FailedBlobIDs,
	}
	s.writeJSON(w, http.StatusOK, resp)
}
