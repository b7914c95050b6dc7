package store

import (
	"context"
	"database/sql"
	"errors"

	"tally/internal/models"
)

const blobColumns = "id, total, size_bytes, created_at, updated_at"

// collectableBlob matches orphaned counter rows that no attachment still
// points at. A NULL total with live rows is drift left by older schemas; the
// collector skips it so the bytes survive.
const collectableBlob = `total IS NULL
	AND NOT EXISTS (SELECT 1 FROM attachments WHERE attachments.blob_id = blob_references.id)`

// GetBlobReference returns the counter row for one blob.
func (s *Store) GetBlobReference(ctx context.Context, id string) (*models.BlobReference, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+blobColumns+` FROM blob_references WHERE id = ?`), id)
	ref, err := scanBlobReference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("blob", id)
	}
	if err != nil {
		return nil, storageUnavailable("get blob reference", err)
	}
	return ref, nil
}

// GetOrphanedBlob returns the blob only while it is collectable and reports
// ErrNotFound otherwise.
func (s *Store) GetOrphanedBlob(ctx context.Context, id string) (*models.BlobReference, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+blobColumns+` FROM blob_references WHERE id = ? AND `+collectableBlob), id)
	ref, err := scanBlobReference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("blob", id)
	}
	if err != nil {
		return nil, storageUnavailable("get orphaned blob", err)
	}
	return ref, nil
}

// ListOrphanedBlobs returns collectable orphaned blobs with id greater than
// afterID, in id order. Pass the last id of a page to fetch the next one.
func (s *Store) ListOrphanedBlobs(ctx context.Context, afterID string, limit int) ([]models.BlobReference, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+blobColumns+` FROM blob_references
		WHERE `+collectableBlob+` AND id > ?
		ORDER BY id ASC
		LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, storageUnavailable("list orphaned blobs", err)
	}
	defer rows.Close()

	var out []models.BlobReference
	for rows.Next() {
		ref, err := scanBlobReference(rows)
		if err != nil {
			return nil, storageUnavailable("list orphaned blobs", err)
		}
		out = append(out, *ref)
	}
	if err := rows.Err(); err != nil {
		return nil, storageUnavailable("list orphaned blobs", err)
	}
	return out, nil
}

// CountOrphanedBlobs reports how many blobs are waiting for collection.
func (s *Store) CountOrphanedBlobs(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blob_references WHERE `+collectableBlob).Scan(&n); err != nil {
		return 0, storageUnavailable("count orphaned blobs", err)
	}
	return n, nil
}

// DeleteOrphanedBlob removes the counter row of an orphaned blob. It is a
// no-op returning false when the row is gone or is referenced again; the
// foreign key from attachments also refuses the delete while any row points
// at the blob.
func (s *Store) DeleteOrphanedBlob(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, "delete orphaned blob", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM blob_references WHERE id = ? AND `+collectableBlob), id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = affected > 0
		return nil
	})
	return deleted, err
}

func scanBlobReference(scanner interface{ Scan(dest ...any) error }) (*models.BlobReference, error) {
	var (
		ref       models.BlobReference
		total     sql.NullInt64
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&ref.ID, &total, &ref.SizeBytes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ref.Total = refCountFromNull(total)

	var err error
	if ref.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ref.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &ref, nil
}
