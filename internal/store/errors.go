package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a missing attachment, expense or blob reference.
	ErrNotFound = errors.New("not found")
	// ErrBlobNotAvailable reports an attempt to reference an orphaned or unknown blob.
	ErrBlobNotAvailable = errors.New("blob not available")
	// ErrStorageUnavailable reports a transaction or I/O failure. Nothing was
	// committed, so the whole operation may be retried.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidInput reports a malformed request to the store.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// BlobNotAvailableError lists the blobs whose counter refused an increment.
type BlobNotAvailableError struct {
	BlobIDs []string
}

func (e *BlobNotAvailableError) Error() string {
	return fmt.Sprintf("blob not available: %s", strings.Join(e.BlobIDs, ", "))
}

func (e *BlobNotAvailableError) Unwrap() error {
	return ErrBlobNotAvailable
}

func notFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storageUnavailable wraps infrastructure failures. Domain errors and errors
// already classified pass through untouched.
func storageUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBlobNotAvailable) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsCanceled reports whether err came from a cancelled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
