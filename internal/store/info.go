package store

import (
	"context"
)

// StoreInfo summarizes the store for the info endpoint.
type StoreInfo struct {
	Driver          Driver `json:"driver"`
	SchemaVersion   int    `json:"schema_version"`
	Expenses        int    `json:"expenses"`
	Attachments     int    `json:"attachments"`
	Blobs           int    `json:"blobs"`
	OrphanedBlobs   int    `json:"orphaned_blobs"`
	ReferencedBytes int64  `json:"referenced_bytes"`
}

// StoreInfo returns schema and row counts.
func (s *Store) StoreInfo(ctx context.Context) (*StoreInfo, error) {
	info := &StoreInfo{Driver: s.driver}

	status, err := MigrationPlan(s.db, s.driver)
	if err != nil {
		return nil, storageUnavailable("schema version", err)
	}
	info.SchemaVersion = status.CurrentVersion

	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM expenses),
		(SELECT COUNT(*) FROM attachments),
		(SELECT COUNT(*) FROM blob_references),
		(SELECT COUNT(*) FROM blob_references WHERE total IS NULL),
		(SELECT COALESCE(SUM(size_bytes), 0) FROM blob_references WHERE total IS NOT NULL)`)
	if err := row.Scan(&info.Expenses, &info.Attachments, &info.Blobs, &info.OrphanedBlobs, &info.ReferencedBytes); err != nil {
		return nil, storageUnavailable("store info", err)
	}
	return info, nil
}
