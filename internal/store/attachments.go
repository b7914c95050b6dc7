package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tally/internal/models"
)

const attachmentColumns = "id, owner_id, kind, blob_id, name, mime_type, size_bytes, metadata, creator_id, created_at, updated_at"

// AttachmentFilter selects attachments for a bulk delete. At least one field
// must be set; set fields are combined with AND.
type AttachmentFilter struct {
	OwnerID string
	IDs     []string
}

// DeleteResult reports deleted attachments and the committed counter of every
// blob they referenced.
type DeleteResult struct {
	Attachments []models.Attachment
	Blobs       []models.BlobCount
}

// OrphanedBlobIDs lists blobs left with no live references by the delete.
func (r DeleteResult) OrphanedBlobIDs() []string {
	var out []string
	for _, b := range r.Blobs {
		if b.Total.IsOrphaned() {
			out = append(out, b.BlobID)
		}
	}
	return out
}

type attachmentMetadata struct {
	Filename string            `json:"filename,omitempty"`
	Image    *models.ImageMeta `json:"image,omitempty"`
	URL      string            `json:"url,omitempty"`
}

// CreateAttachment inserts one attachment. A file attachment first takes a
// reference on its blob; if the blob is orphaned or unknown nothing is
// written and ErrBlobNotAvailable is returned.
func (s *Store) CreateAttachment(ctx context.Context, ownerID string, in models.AttachmentInput) (*models.Attachment, error) {
	if err := in.Validate(); err != nil {
		return nil, invalidInput("%v", err)
	}

	var created *models.Attachment
	err := s.withTx(ctx, "create attachment", func(tx *sql.Tx) error {
		if err := s.ensureExpenseTx(ctx, tx, ownerID); err != nil {
			return err
		}
		if blobID, ok := in.BlobID(); ok {
			if err := s.counter.incrementOne(ctx, tx, blobID, 1); err != nil {
				return err
			}
		}
		attachment, err := s.insertAttachmentTx(ctx, tx, ownerID, in)
		if err != nil {
			return err
		}
		created = attachment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateAttachments inserts a batch all-or-nothing. File items are grouped by
// blob and counted with a single increment; one unavailable blob rejects the
// whole batch.
func (s *Store) CreateAttachments(ctx context.Context, ownerID string, items []models.AttachmentInput) ([]models.Attachment, error) {
	if len(items) == 0 {
		return nil, invalidInput("at least one attachment is required")
	}
	counts := make(map[string]int)
	for i, in := range items {
		if err := in.Validate(); err != nil {
			return nil, invalidInput("item %d: %v", i, err)
		}
		if blobID, ok := in.BlobID(); ok {
			counts[blobID]++
		}
	}

	var created []models.Attachment
	err := s.withTx(ctx, "create attachments", func(tx *sql.Tx) error {
		if err := s.ensureExpenseTx(ctx, tx, ownerID); err != nil {
			return err
		}
		if err := s.counter.incrementMany(ctx, tx, counts); err != nil {
			return err
		}
		created = make([]models.Attachment, 0, len(items))
		for _, in := range items {
			attachment, err := s.insertAttachmentTx(ctx, tx, ownerID, in)
			if err != nil {
				return err
			}
			created = append(created, *attachment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateAttachmentsWithBlob registers a freshly stored blob with its counter
// set to len(items) and inserts the attachments in the same transaction.
func (s *Store) CreateAttachmentsWithBlob(ctx context.Context, ownerID string, blob models.BlobReference, items []models.AttachmentInput) ([]models.Attachment, error) {
	return s.CreateAttachmentsWithBlobs(ctx, ownerID, []NewBlob{{Blob: blob, Items: items}})
}

// NewBlob pairs a freshly stored blob with the attachments that reference it.
type NewBlob struct {
	Blob  models.BlobReference
	Items []models.AttachmentInput
}

// CreateAttachmentsWithBlobs registers several fresh blobs and their
// attachments in one transaction. Nothing is committed unless every blob and
// every row is.
func (s *Store) CreateAttachmentsWithBlobs(ctx context.Context, ownerID string, blobs []NewBlob) ([]models.Attachment, error) {
	if len(blobs) == 0 {
		return nil, invalidInput("at least one attachment is required")
	}
	prepared := make([][]models.AttachmentInput, len(blobs))
	n := 0
	for b, nb := range blobs {
		if len(nb.Items) == 0 {
			return nil, invalidInput("at least one attachment is required")
		}
		prepared[b] = make([]models.AttachmentInput, len(nb.Items))
		for i, in := range nb.Items {
			if in.Kind != models.AttachmentKindFile || in.File == nil {
				return nil, invalidInput("item %d: new blob attachments must be files", n)
			}
			file := *in.File
			file.BlobID = nb.Blob.ID
			if file.SizeBytes == 0 {
				file.SizeBytes = nb.Blob.SizeBytes
			}
			in.File = &file
			if err := in.Validate(); err != nil {
				return nil, invalidInput("item %d: %v", n, err)
			}
			prepared[b][i] = in
			n++
		}
	}

	var created []models.Attachment
	err := s.withTx(ctx, "create attachments with blob", func(tx *sql.Tx) error {
		if err := s.ensureExpenseTx(ctx, tx, ownerID); err != nil {
			return err
		}
		created = make([]models.Attachment, 0, n)
		for b, nb := range blobs {
			if err := s.counter.register(ctx, tx, nb.Blob, len(prepared[b])); err != nil {
				return err
			}
			for _, in := range prepared[b] {
				attachment, err := s.insertAttachmentTx(ctx, tx, ownerID, in)
				if err != nil {
					return err
				}
				created = append(created, *attachment)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteAttachment removes one attachment and releases its blob reference in
// the same transaction.
func (s *Store) DeleteAttachment(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := s.withTx(ctx, "delete attachment", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`DELETE FROM attachments WHERE id = ? RETURNING `+attachmentColumns), id)
		attachment, err := scanAttachment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("attachment", id)
		}
		if err != nil {
			return err
		}
		result.Attachments = []models.Attachment{*attachment}

		blobID, ok := attachment.BlobID()
		if !ok {
			return nil
		}
		count, found, err := s.counter.decrementOne(ctx, tx, blobID)
		if err != nil {
			return err
		}
		if !found {
			s.log().Warn("blob reference missing on attachment delete", "attachment_id", id, "blob_id", blobID)
			return nil
		}
		result.Blobs = []models.BlobCount{count}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// DeleteAttachments removes every attachment matching filter and releases
// their blob references with one decrement, all in one transaction.
func (s *Store) DeleteAttachments(ctx context.Context, filter AttachmentFilter) (DeleteResult, error) {
	var result DeleteResult
	err := s.withTx(ctx, "delete attachments", func(tx *sql.Tx) error {
		var err error
		result, err = s.deleteAttachmentsTx(ctx, tx, filter)
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

func (s *Store) deleteAttachmentsTx(ctx context.Context, tx *sql.Tx, filter AttachmentFilter) (DeleteResult, error) {
	var result DeleteResult

	where := make([]string, 0, 2)
	args := make([]any, 0, 1+len(filter.IDs))
	if owner := strings.TrimSpace(filter.OwnerID); owner != "" {
		where = append(where, "owner_id = ?")
		args = append(args, owner)
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if len(where) == 0 {
		return result, invalidInput("attachment filter requires owner_id or ids")
	}

	rows, err := tx.QueryContext(ctx, s.rebind(`DELETE FROM attachments WHERE `+strings.Join(where, " AND ")+` RETURNING `+attachmentColumns), args...)
	if err != nil {
		return result, err
	}
	deleted, err := scanAttachments(rows)
	if err != nil {
		return result, err
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].ID < deleted[j].ID })
	result.Attachments = deleted

	counts := make(map[string]int)
	for _, attachment := range deleted {
		if blobID, ok := attachment.BlobID(); ok {
			counts[blobID]++
		}
	}
	blobs, missing, err := s.counter.decrementMany(ctx, tx, counts)
	if err != nil {
		return result, err
	}
	for _, blobID := range missing {
		s.log().Warn("blob reference missing on attachment delete", "blob_id", blobID)
	}
	result.Blobs = blobs
	return result, nil
}

// GetAttachment returns one attachment.
func (s *Store) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`), id)
	attachment, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("attachment", id)
	}
	if err != nil {
		return nil, storageUnavailable("get attachment", err)
	}
	return attachment, nil
}

// ListAttachmentsByOwner lists an expense's attachments oldest first.
func (s *Store) ListAttachmentsByOwner(ctx context.Context, ownerID string) ([]models.Attachment, error) {
	exists, err := s.expenseExists(ctx, s.db, ownerID)
	if err != nil {
		return nil, storageUnavailable("list attachments", err)
	}
	if !exists {
		return nil, notFound("expense", ownerID)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+attachmentColumns+` FROM attachments WHERE owner_id = ? ORDER BY created_at ASC, id ASC`), ownerID)
	if err != nil {
		return nil, storageUnavailable("list attachments", err)
	}
	out, err := scanAttachments(rows)
	if err != nil {
		return nil, storageUnavailable("list attachments", err)
	}
	return out, nil
}

// RenameAttachment changes the display name. The blob counter is not involved.
func (s *Store) RenameAttachment(ctx context.Context, id, name string) (*models.Attachment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("attachment name is required")
	}
	var renamed *models.Attachment
	err := s.withTx(ctx, "rename attachment", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`UPDATE attachments SET name = ?, updated_at = ? WHERE id = ? RETURNING `+attachmentColumns),
			name, formatTime(s.now()), id)
		attachment, err := scanAttachment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("attachment", id)
		}
		if err != nil {
			return err
		}
		renamed = attachment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

func (s *Store) insertAttachmentTx(ctx context.Context, tx *sql.Tx, ownerID string, in models.AttachmentInput) (*models.Attachment, error) {
	id, err := GenerateAttachmentID(func(candidate string) (bool, error) {
		return s.attachmentExists(ctx, tx, candidate)
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	attachment := &models.Attachment{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      in.Kind,
		Name:      strings.TrimSpace(in.Name),
		CreatorID: strings.TrimSpace(in.CreatorID),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var (
		blobID    any
		mimeType  string
		sizeBytes int64
		meta      attachmentMetadata
	)
	switch in.Kind {
	case models.AttachmentKindFile:
		file := *in.File
		attachment.File = &file
		blobID = file.BlobID
		mimeType = file.MimeType
		sizeBytes = file.SizeBytes
		meta.Filename = file.Filename
		meta.Image = file.Image
	case models.AttachmentKindLink:
		link := *in.Link
		attachment.Link = &link
		meta.URL = link.URL
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO attachments (`+attachmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		attachment.ID,
		attachment.OwnerID,
		string(attachment.Kind),
		blobID,
		attachment.Name,
		nullIfEmpty(mimeType),
		sizeBytes,
		string(metaJSON),
		nullIfEmpty(attachment.CreatorID),
		formatTime(attachment.CreatedAt),
		formatTime(attachment.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	return attachment, nil
}

func (s *Store) attachmentExists(ctx context.Context, q txQuerier, id string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, s.rebind("SELECT 1 FROM attachments WHERE id = ? LIMIT 1"), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanAttachments(rows *sql.Rows) ([]models.Attachment, error) {
	defer rows.Close()
	var out []models.Attachment
	for rows.Next() {
		attachment, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *attachment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanAttachment(scanner interface{ Scan(dest ...any) error }) (*models.Attachment, error) {
	var (
		attachment models.Attachment
		kind       string
		blobID     sql.NullString
		mimeType   sql.NullString
		sizeBytes  int64
		metaJSON   string
		creatorID  sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(
		&attachment.ID,
		&attachment.OwnerID,
		&kind,
		&blobID,
		&attachment.Name,
		&mimeType,
		&sizeBytes,
		&metaJSON,
		&creatorID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var meta attachmentMetadata
	if strings.TrimSpace(metaJSON) != "" {
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("decode attachment metadata %s: %w", attachment.ID, err)
		}
	}

	attachment.Kind = models.AttachmentKind(kind)
	switch attachment.Kind {
	case models.AttachmentKindFile:
		attachment.File = &models.FileData{
			BlobID:    blobID.String,
			Filename:  meta.Filename,
			MimeType:  mimeType.String,
			SizeBytes: sizeBytes,
			Image:     meta.Image,
		}
	case models.AttachmentKindLink:
		attachment.Link = &models.LinkData{URL: meta.URL}
	}
	attachment.CreatorID = creatorID.String

	var err error
	if attachment.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if attachment.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &attachment, nil
}
