package store

import (
	"context"

	"tally/internal/models"
)

// ExpenseStore abstracts expense storage backends.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, expense *models.Expense) error
	GetExpense(ctx context.Context, id string) (*models.Expense, error)
	ListExpenses(ctx context.Context, projectID string, limit int) ([]models.Expense, error)
	UpdateExpense(ctx context.Context, id string, update ExpenseUpdate) (*models.Expense, error)
	DeleteExpense(ctx context.Context, id string) (DeleteResult, error)
}

// AttachmentStore abstracts attachment storage. Every mutation keeps the
// referenced blob counters in step inside the same transaction.
type AttachmentStore interface {
	CreateAttachment(ctx context.Context, ownerID string, in models.AttachmentInput) (*models.Attachment, error)
	CreateAttachments(ctx context.Context, ownerID string, items []models.AttachmentInput) ([]models.Attachment, error)
	CreateAttachmentsWithBlob(ctx context.Context, ownerID string, blob models.BlobReference, items []models.AttachmentInput) ([]models.Attachment, error)
	CreateAttachmentsWithBlobs(ctx context.Context, ownerID string, blobs []NewBlob) ([]models.Attachment, error)
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	ListAttachmentsByOwner(ctx context.Context, ownerID string) ([]models.Attachment, error)
	RenameAttachment(ctx context.Context, id, name string) (*models.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) (DeleteResult, error)
	DeleteAttachments(ctx context.Context, filter AttachmentFilter) (DeleteResult, error)
}

// BlobReferenceStore is the garbage collector's view of the counters.
type BlobReferenceStore interface {
	GetBlobReference(ctx context.Context, id string) (*models.BlobReference, error)
	GetOrphanedBlob(ctx context.Context, id string) (*models.BlobReference, error)
	ListOrphanedBlobs(ctx context.Context, afterID string, limit int) ([]models.BlobReference, error)
	CountOrphanedBlobs(ctx context.Context) (int, error)
	DeleteOrphanedBlob(ctx context.Context, id string) (bool, error)
}

// ServiceStore is the full store used by the HTTP server.
type ServiceStore interface {
	ExpenseStore
	AttachmentStore
	StoreInfo(ctx context.Context) (*StoreInfo, error)
}

var (
	_ ServiceStore       = (*Store)(nil)
	_ ExpenseStore       = (*Store)(nil)
	_ AttachmentStore    = (*Store)(nil)
	_ BlobReferenceStore = (*Store)(nil)
)
