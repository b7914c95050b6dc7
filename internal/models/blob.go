package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RefCount is the live reference count of a blob: either Referenced(n) with
// n > 0, or Orphaned. The zero value is Orphaned. It is stored as a nullable
// integer where NULL means orphaned; zero is never stored.
type RefCount struct {
	n int64
}

// Referenced returns a count of n live references. n <= 0 yields Orphaned.
func Referenced(n int64) RefCount {
	if n <= 0 {
		return RefCount{}
	}
	return RefCount{n: n}
}

// Orphaned returns the no-live-references state.
func Orphaned() RefCount {
	return RefCount{}
}

// IsOrphaned reports whether no live references remain.
func (r RefCount) IsOrphaned() bool {
	return r.n <= 0
}

// Count returns the number of live references (0 when orphaned).
func (r RefCount) Count() int64 {
	if r.n < 0 {
		return 0
	}
	return r.n
}

func (r RefCount) String() string {
	if r.IsOrphaned() {
		return "orphaned"
	}
	return fmt.Sprintf("%d", r.n)
}

func (r RefCount) MarshalJSON() ([]byte, error) {
	if r.IsOrphaned() {
		return []byte("null"), nil
	}
	return json.Marshal(r.n)
}

func (r *RefCount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Orphaned()
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = Referenced(n)
	return nil
}

// BlobReference is the counted handle to one physically stored object. ID is
// also the physical storage key.
type BlobReference struct {
	ID        string    `json:"id"`
	Total     RefCount  `json:"total"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlobCount is the committed counter of a blob after a mutation.
type BlobCount struct {
	BlobID string   `json:"blob_id"`
	Total  RefCount `json:"total"`
}
