package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	originalName  = "original"
	thumbnailsDir = "thumbnails"
)

// LocalStore keeps blob bytes on the local filesystem:
//
//	<root>/<blob id>/original
//	<root>/<blob id>/thumbnails/<name>
//
// Writes go through <root>/tmp and are renamed into place.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local store rooted at root.
func NewLocalStore(root string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("blob store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, "tmp"), 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute storage directory.
func (l *LocalStore) Root() string {
	return l.root
}

// Put streams bytes to a new blob id and records the SHA-256 of the content.
func (l *LocalStore) Put(ctx context.Context, r io.Reader) (PutResult, error) {
	var zero PutResult
	if l == nil {
		return zero, fmt.Errorf("blob store is not configured")
	}
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	id := NewBlobID()
	h := sha256.New()
	n, err := l.writeFile(filepath.Join(l.root, id, originalName), io.TeeReader(r, h))
	if err != nil {
		_ = os.RemoveAll(filepath.Join(l.root, id))
		return zero, err
	}
	return PutResult{BlobID: id, SHA256: hex.EncodeToString(h.Sum(nil)), SizeBytes: n}, nil
}

// Open returns a reader for the original bytes of a blob.
func (l *LocalStore) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	path, err := l.originalPath(ctx, blobID)
	if err != nil {
		return nil, err
	}
	return openFile(path)
}

// Exists reports whether the original bytes of a blob are present.
func (l *LocalStore) Exists(ctx context.Context, blobID string) (bool, error) {
	path, err := l.originalPath(ctx, blobID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the blob directory with the original and every thumbnail.
func (l *LocalStore) Delete(ctx context.Context, blobID string) error {
	dir, err := l.blobDir(ctx, blobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// PutThumbnail stores a generated variant next to the original.
func (l *LocalStore) PutThumbnail(ctx context.Context, blobID, name string, r io.Reader) error {
	path, err := l.thumbnailPath(ctx, blobID, name)
	if err != nil {
		return err
	}
	_, err = l.writeFile(path, r)
	return err
}

// OpenThumbnail returns a reader for a stored variant.
func (l *LocalStore) OpenThumbnail(ctx context.Context, blobID, name string) (io.ReadCloser, error) {
	path, err := l.thumbnailPath(ctx, blobID, name)
	if err != nil {
		return nil, err
	}
	return openFile(path)
}

// DeleteThumbnails removes every variant of a blob. Missing variants are ignored.
func (l *LocalStore) DeleteThumbnails(ctx context.Context, blobID string) error {
	dir, err := l.blobDir(ctx, blobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(dir, thumbnailsDir))
}

func (l *LocalStore) writeFile(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(l.root, "tmp"), "put-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return 0, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return 0, err
	}
	return n, nil
}

func (l *LocalStore) blobDir(ctx context.Context, blobID string) (string, error) {
	if l == nil {
		return "", fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateBlobID(blobID); err != nil {
		return "", err
	}
	return filepath.Join(l.root, blobID), nil
}

func (l *LocalStore) originalPath(ctx context.Context, blobID string) (string, error) {
	dir, err := l.blobDir(ctx, blobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, originalName), nil
}

func (l *LocalStore) thumbnailPath(ctx context.Context, blobID, name string) (string, error) {
	dir, err := l.blobDir(ctx, blobID)
	if err != nil {
		return "", err
	}
	if err := ValidateThumbnailName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, thumbnailsDir, name), nil
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

var _ BlobStore = (*LocalStore)(nil)
