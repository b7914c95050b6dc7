package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps blobs in memory. It is safe for concurrent use and is
// meant for tests and throwaway servers.
type MemoryStore struct {
	mu         sync.RWMutex
	originals  map[string][]byte
	thumbnails map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		originals:  make(map[string][]byte),
		thumbnails: make(map[string]map[string][]byte),
	}
}

func (m *MemoryStore) Put(ctx context.Context, r io.Reader) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, fmt.Errorf("read content: %w", err)
	}
	sum := sha256.Sum256(data)
	id := NewBlobID()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.originals[id] = data
	return PutResult{BlobID: id, SHA256: hex.EncodeToString(sum[:]), SizeBytes: int64(len(data))}, nil
}

func (m *MemoryStore) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.originals[blobID]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Exists(ctx context.Context, blobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.originals[blobID]
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.originals, blobID)
	delete(m.thumbnails, blobID)
	return nil
}

func (m *MemoryStore) PutThumbnail(ctx context.Context, blobID, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateThumbnailName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read thumbnail: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.thumbnails[blobID] == nil {
		m.thumbnails[blobID] = make(map[string][]byte)
	}
	m.thumbnails[blobID][name] = data
	return nil
}

func (m *MemoryStore) OpenThumbnail(ctx context.Context, blobID, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.thumbnails[blobID][name]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) DeleteThumbnails(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.thumbnails, blobID)
	return nil
}

// Len reports how many originals are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.originals)
}

var _ BlobStore = (*MemoryStore)(nil)
