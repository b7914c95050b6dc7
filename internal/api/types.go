package api

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// InfoResponse is the response from GET /v1/info.
type InfoResponse struct {
	Driver          string `json:"driver"`
	SchemaVersion   int    `json:"schema_version"`
	BlobBackend     string `json:"blob_backend"`
	Expenses        int    `json:"expenses"`
	Attachments     int    `json:"attachments"`
	Blobs           int    `json:"blobs"`
	OrphanedBlobs   int    `json:"orphaned_blobs"`
	ReferencedBytes int64  `json:"referenced_bytes"`
}

// BlobGCRequest defines the payload for POST /v1/admin/gc-blobs.
type BlobGCRequest struct {
	DryRun    bool `json:"dry_run"`
	BatchSize int  `json:"batch_size,omitempty"`
}

// BlobGCResponse reports one sweep.
type BlobGCResponse struct {
	CandidateCount int      `json:"candidate_count"`
	DeletedCount   int      `json:"deleted_count"`
	FailedCount    int      `json:"failed_count"`
	ReclaimedBytes int64    `json:"reclaimed_bytes"`
	DryRun         bool     `json:"dry_run"`
	FailedBlobIDs  []string `json:"failed_blob_ids,omitempty"`
}
