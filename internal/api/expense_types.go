package api

import "tally/internal/models"

// ExpenseCreateRequest defines the payload for creating an expense.
type ExpenseCreateRequest struct {
	ProjectID   string `json:"project_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency,omitempty"`
	Category    string `json:"category,omitempty"`
	SpentOn     string `json:"spent_on,omitempty"`
}

// ExpenseUpdateRequest changes the fields that are set.
type ExpenseUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AmountCents *int64  `json:"amount_cents,omitempty"`
	Currency    *string `json:"currency,omitempty"`
	Category    *string `json:"category,omitempty"`
	SpentOn     *string `json:"spent_on,omitempty"`
}

// ExpenseResponse is an expense as returned by the API.
type ExpenseResponse struct {
	models.Expense
}

// DeleteResponse reports removed attachments and the resulting blob counters.
// OrphanedBlobIDs are queued for collection.
type DeleteResponse struct {
	ID              string             `json:"id,omitempty"`
	AttachmentIDs   []string           `json:"attachment_ids"`
	Blobs           []models.BlobCount `json:"blobs"`
	OrphanedBlobIDs []string           `json:"orphaned_blob_ids"`
}
