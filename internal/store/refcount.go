package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"tally/internal/models"
)

// txQuerier is the subset of *sql.Tx the counter needs.
type txQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// refCounter mutates blob_references.total. Every mutation is one conditional
// UPDATE evaluated by the database against the current row, so concurrent
// callers never lose updates. There is deliberately no operation that reads a
// count and writes a value back.
//
// NULL in the column is the orphaned state; the CHECK constraint keeps 0 and
// negative values out.
type refCounter struct {
	store *Store
}

// register inserts a freshly stored blob with n initial references. n == 0
// stores the orphaned sentinel.
func (c refCounter) register(ctx context.Context, tx txQuerier, ref models.BlobReference, n int) error {
	if strings.TrimSpace(ref.ID) == "" {
		return invalidInput("blob id is required")
	}
	if n < 0 {
		return invalidInput("initial reference count must not be negative")
	}
	now := formatTime(c.store.now())
	var total any
	if n > 0 {
		total = n
	}
	_, err := tx.ExecContext(ctx, c.store.rebind(`
		INSERT INTO blob_references (id, total, size_bytes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`),
		ref.ID, total, ref.SizeBytes, now, now,
	)
	return err
}

// incrementOne adds n to one blob's counter if it is not orphaned. A miss
// (orphaned or absent row) fails with ErrBlobNotAvailable.
func (c refCounter) incrementOne(ctx context.Context, tx txQuerier, blobID string, n int) error {
	if n <= 0 {
		return invalidInput("increment must be positive")
	}
	res, err := tx.ExecContext(ctx, c.store.rebind(`
		UPDATE blob_references
		SET total = total + ?, updated_at = ?
		WHERE id = ? AND total IS NOT NULL`),
		n, formatTime(c.store.now()), blobID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &BlobNotAvailableError{BlobIDs: []string{blobID}}
	}
	return nil
}

// incrementMany adds counts[id] to every listed counter in one statement.
// Rows whose counter is orphaned or that do not exist are not touched; they
// are reported together in a BlobNotAvailableError and the caller must roll
// back.
func (c refCounter) incrementMany(ctx context.Context, tx txQuerier, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}
	delta, deltaArgs, ids, err := countCaseExpr(counts)
	if err != nil {
		return err
	}

	query := `UPDATE blob_references SET total = total + ` + delta + `, updated_at = ? ` +
		`WHERE id IN (` + placeholders(len(ids)) + `) AND total IS NOT NULL RETURNING id`
	args := make([]any, 0, len(deltaArgs)+1+len(ids))
	args = append(args, deltaArgs...)
	args = append(args, formatTime(c.store.now()))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := tx.QueryContext(ctx, c.store.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	updated := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		updated[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := updated[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &BlobNotAvailableError{BlobIDs: missing}
	}
	return nil
}

// decrementOne removes one reference. A counter at 1 (or already orphaned)
// becomes NULL. found is false when no row exists for blobID.
func (c refCounter) decrementOne(ctx context.Context, tx txQuerier, blobID string) (models.BlobCount, bool, error) {
	row := tx.QueryRowContext(ctx, c.store.rebind(`
		UPDATE blob_references
		SET total = CASE WHEN total > 1 THEN total - 1 END, updated_at = ?
		WHERE id = ?
		RETURNING total`),
		formatTime(c.store.now()), blobID,
	)
	var total sql.NullInt64
	if err := row.Scan(&total); err != nil {
		if err == sql.ErrNoRows {
			return models.BlobCount{BlobID: blobID}, false, nil
		}
		return models.BlobCount{}, false, err
	}
	return models.BlobCount{BlobID: blobID, Total: refCountFromNull(total)}, true, nil
}

// decrementMany removes counts[id] references from every listed counter in
// one statement. A counter that would reach zero (or below, for inconsistent
// data) becomes NULL. Blob ids with no row are returned in missing.
func (c refCounter) decrementMany(ctx context.Context, tx txQuerier, counts map[string]int) ([]models.BlobCount, []string, error) {
	if len(counts) == 0 {
		return nil, nil, nil
	}
	delta, deltaArgs, ids, err := countCaseExpr(counts)
	if err != nil {
		return nil, nil, err
	}

	query := `UPDATE blob_references SET total = CASE WHEN total <= ` + delta +
		` THEN NULL ELSE total - ` + delta + ` END, updated_at = ? ` +
		`WHERE id IN (` + placeholders(len(ids)) + `) RETURNING id, total`
	args := make([]any, 0, 2*len(deltaArgs)+1+len(ids))
	args = append(args, deltaArgs...)
	args = append(args, deltaArgs...)
	args = append(args, formatTime(c.store.now()))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := tx.QueryContext(ctx, c.store.rebind(query), args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	seen := make(map[string]struct{}, len(ids))
	out := make([]models.BlobCount, 0, len(ids))
	for rows.Next() {
		var (
			id    string
			total sql.NullInt64
		)
		if err := rows.Scan(&id, &total); err != nil {
			return nil, nil, err
		}
		seen[id] = struct{}{}
		out = append(out, models.BlobCount{BlobID: id, Total: refCountFromNull(total)})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlobID < out[j].BlobID })

	var missing []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return out, missing, nil
}

// countCaseExpr builds "CASE WHEN id IN (...) THEN n ... END" with one branch
// per distinct count. ids is returned sorted.
func countCaseExpr(counts map[string]int) (string, []any, []string, error) {
	byCount := make(map[int][]string)
	ids := make([]string, 0, len(counts))
	for id, n := range counts {
		if strings.TrimSpace(id) == "" {
			return "", nil, nil, invalidInput("blob id is required")
		}
		if n <= 0 {
			return "", nil, nil, invalidInput("count for blob %s must be positive, got %d", id, n)
		}
		byCount[n] = append(byCount[n], id)
		ids = append(ids, id)
	}
	sort.Strings(ids)

	distinct := make([]int, 0, len(byCount))
	for n := range byCount {
		distinct = append(distinct, n)
	}
	sort.Ints(distinct)

	var b strings.Builder
	args := make([]any, 0, len(ids)+len(distinct))
	b.WriteString("CASE")
	for _, n := range distinct {
		group := byCount[n]
		sort.Strings(group)
		fmt.Fprintf(&b, " WHEN id IN (%s) THEN CAST(? AS INTEGER)", placeholders(len(group)))
		for _, id := range group {
			args = append(args, id)
		}
		args = append(args, n)
	}
	b.WriteString(" END")
	return b.String(), args, ids, nil
}

func refCountFromNull(v sql.NullInt64) models.RefCount {
	if !v.Valid {
		return models.Orphaned()
	}
	return models.Referenced(v.Int64)
}
