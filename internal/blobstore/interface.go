package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/oklog/ulid/v2"
)

const blobIDPrefix = "bl-"

// ErrNotFound reports a missing blob or thumbnail object.
var ErrNotFound = errors.New("blob object not found")

// PutResult describes one persisted blob payload.
type PutResult struct {
	BlobID    string
	SHA256    string
	SizeBytes int64
}

// BlobStore persists raw bytes under an opaque blob id. The id doubles as the
// counter key in the relational store. Deleting a missing object succeeds.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (PutResult, error)
	Open(ctx context.Context, blobID string) (io.ReadCloser, error)
	Exists(ctx context.Context, blobID string) (bool, error)
	Delete(ctx context.Context, blobID string) error

	PutThumbnail(ctx context.Context, blobID, name string, r io.Reader) error
	OpenThumbnail(ctx context.Context, blobID, name string) (io.ReadCloser, error)
	DeleteThumbnails(ctx context.Context, blobID string) error
}

// NewBlobID returns a fresh, time-ordered blob id.
func NewBlobID() string {
	return blobIDPrefix + strings.ToLower(ulid.Make().String())
}

// ValidateBlobID rejects ids that were not produced by NewBlobID. Backends
// call it before building any path or object key.
func ValidateBlobID(id string) error {
	rest, ok := strings.CutPrefix(id, blobIDPrefix)
	if !ok {
		return fmt.Errorf("invalid blob id: %q", id)
	}
	if _, err := ulid.ParseStrict(strings.ToUpper(rest)); err != nil {
		return fmt.Errorf("invalid blob id: %q", id)
	}
	return nil
}

// ValidateThumbnailName accepts names like "outside-360.jpg".
func ValidateThumbnailName(name string) error {
	base, ext, ok := strings.Cut(name, ".")
	if !ok || base == "" || ext == "" || strings.Contains(ext, ".") {
		return fmt.Errorf("invalid thumbnail name: %q", name)
	}
	for _, r := range base + ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("invalid thumbnail name: %q", name)
		}
	}
	return nil
}
