package gc

import (
	"errors"
	"fmt"
)

// ErrReclaimFailed marks a candidate whose bytes or row could not be removed.
// The counter row is kept, so the next sweep retries it.
var ErrReclaimFailed = errors.New("reclaim failed")

// ReclaimError names the blob a reclaim attempt failed on.
type ReclaimError struct {
	BlobID string
	Err    error
}

func (e *ReclaimError) Error() string {
	return fmt.Sprintf("reclaim blob %s: %v", e.BlobID, e.Err)
}

func (e *ReclaimError) Unwrap() []error {
	return []error{ErrReclaimFailed, e.Err}
}
