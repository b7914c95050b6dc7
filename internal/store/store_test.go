package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tally/internal/models"
)

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func createTestExpense(t *testing.T, st *Store, name string) *models.Expense {
	t.Helper()
	expense := &models.Expense{Name: name, AmountCents: 1250}
	if err := st.CreateExpense(context.Background(), expense); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	return expense
}

// seedBlob registers a blob with total references and no attachments. total
// 0 stores the orphaned sentinel.
func seedBlob(t *testing.T, st *Store, id string, total int) {
	t.Helper()
	err := st.withTx(context.Background(), "seed blob", func(tx *sql.Tx) error {
		return st.counter.register(context.Background(), tx, models.BlobReference{ID: id, SizeBytes: 42}, total)
	})
	if err != nil {
		t.Fatalf("seed blob %s: %v", id, err)
	}
}

func blobTotal(t *testing.T, st *Store, id string) models.RefCount {
	t.Helper()
	ref, err := st.GetBlobReference(context.Background(), id)
	if err != nil {
		t.Fatalf("get blob %s: %v", id, err)
	}
	return ref.Total
}

func fileInput(blobID, name string) models.AttachmentInput {
	return models.AttachmentInput{
		Kind: models.AttachmentKindFile,
		Name: name,
		File: &models.FileData{BlobID: blobID, Filename: name, MimeType: "application/pdf"},
	}
}

func linkInput(url string) models.AttachmentInput {
	return models.AttachmentInput{
		Kind: models.AttachmentKindLink,
		Name: "link",
		Link: &models.LinkData{URL: url},
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{in: "", want: DriverSQLite},
		{in: "SQLite3", want: DriverSQLite},
		{in: "postgres", want: DriverPostgres},
		{in: " pgx ", want: DriverPostgres},
		{in: "mysql", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseDriver(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseDriver(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDriver(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDriver(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRebind(t *testing.T) {
	sqlite := &Store{driver: DriverSQLite}
	if got := sqlite.rebind("a = ? AND b = ?"); got != "a = ? AND b = ?" {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	pg := &Store{driver: DriverPostgres}
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Fatalf("postgres rebind = %q", got)
	}
}

func TestSQLiteDSNEnablesForeignKeys(t *testing.T) {
	dsn, err := sqliteDSN("/tmp/x.db")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if !strings.Contains(dsn, "foreign_keys") {
		t.Fatalf("expected foreign_keys pragma in dsn, got %q", dsn)
	}
	if _, err := sqliteDSN(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPing(t *testing.T) {
	st := testStore(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if st.Driver() != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %q", st.Driver())
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.withTx(ctx, "test", func(tx *sql.Tx) error {
		if err := st.counter.register(ctx, tx, models.BlobReference{ID: "bl-rollback"}, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := st.GetBlobReference(ctx, "bl-rollback"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back blob, got %v", err)
	}
}

func TestWithTxKeepsDomainErrors(t *testing.T) {
	st := testStore(t)
	err := st.withTx(context.Background(), "test", func(tx *sql.Tx) error {
		return &BlobNotAvailableError{BlobIDs: []string{"bl-x"}}
	})
	if !errors.Is(err, ErrBlobNotAvailable) {
		t.Fatalf("expected ErrBlobNotAvailable, got %v", err)
	}
	if errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("domain error must not be classified as storage failure: %v", err)
	}
}

func TestCanceledContextCommitsNothing(t *testing.T) {
	st := testStore(t)
	expense := createTestExpense(t, st, "Hotel")
	seedBlob(t, st, "bl-cancel", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := st.CreateAttachment(ctx, expense.ID, fileInput("bl-cancel", "a.pdf"))
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if !IsCanceled(err) {
		t.Fatalf("expected context error, got %v", err)
	}
	if got := blobTotal(t, st, "bl-cancel"); got.Count() != 1 {
		t.Fatalf("expected counter unchanged at 1, got %s", got)
	}
}

func TestCreateGetListExpense(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	first := &models.Expense{ProjectID: "pr-1", Name: "Train", AmountCents: 4200, Currency: "chf", SpentOn: "2026-03-01"}
	if err := st.CreateExpense(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(first.ID, "ex-") {
		t.Fatalf("expected generated ex- id, got %q", first.ID)
	}
	if first.Currency != "CHF" {
		t.Fatalf("expected normalized currency CHF, got %q", first.Currency)
	}

	second := &models.Expense{ProjectID: "pr-2", Name: "Lunch", CreatedAt: first.CreatedAt.Add(time.Second)}
	if err := st.CreateExpense(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Currency != models.DefaultCurrency {
		t.Fatalf("expected default currency, got %q", second.Currency)
	}

	got, err := st.GetExpense(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Train" || got.AmountCents != 4200 || got.SpentOn != "2026-03-01" || got.ProjectID != "pr-1" {
		t.Fatalf("unexpected expense: %#v", got)
	}

	all, err := st.ListExpenses(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("expected newest first, got %#v", all)
	}

	scoped, err := st.ListExpenses(ctx, "pr-1", 10)
	if err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != first.ID {
		t.Fatalf("expected only pr-1 expense, got %#v", scoped)
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateExpense(ctx, &models.Expense{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", err)
	}
	if err := st.CreateExpense(ctx, &models.Expense{Name: "x", Currency: "EURO"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad currency, got %v", err)
	}
}

func TestGetExpenseNotFound(t *testing.T) {
	st := testStore(t)
	_, err := st.GetExpense(context.Background(), "ex-missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "expense" {
		t.Fatalf("expected expense NotFoundError, got %v", err)
	}
}

func TestUpdateExpenseLeavesCountersAlone(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	expense := createTestExpense(t, st, "Taxi")
	if _, err := st.CreateAttachmentsWithBlob(ctx, expense.ID, models.BlobReference{ID: "bl-taxi"}, []models.AttachmentInput{fileInput("", "ride.pdf")}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	name := "Airport taxi"
	amount := int64(4200)
	category := ""
	updated, err := st.UpdateExpense(ctx, expense.ID, ExpenseUpdate{Name: &name, AmountCents: &amount, Category: &category})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || updated.AmountCents != amount || updated.Category != "" {
		t.Fatalf("unexpected expense: %+v", updated)
	}
	if updated.Currency != expense.Currency || !updated.CreatedAt.Equal(expense.CreatedAt) {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
	if got := blobTotal(t, st, "bl-taxi"); got.Count() != 1 {
		t.Fatalf("expected counter unchanged, got %s", got)
	}

	blank := "  "
	if _, err := st.UpdateExpense(ctx, expense.ID, ExpenseUpdate{Name: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	negative := int64(-1)
	if _, err := st.UpdateExpense(ctx, expense.ID, ExpenseUpdate{AmountCents: &negative}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := st.UpdateExpense(ctx, "ex-missing", ExpenseUpdate{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	same, err := st.UpdateExpense(ctx, expense.ID, ExpenseUpdate{})
	if err != nil || same.Name != name {
		t.Fatalf("empty update should return the stored expense, got %+v %v", same, err)
	}
}

func TestDeleteExpenseCascadesAttachments(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	expense := createTestExpense(t, st, "Conference")
	other := createTestExpense(t, st, "Taxi")

	// bl-two ends with one reference from each expense.
	if _, err := st.CreateAttachmentsWithBlob(ctx, expense.ID, models.BlobReference{ID: "bl-one"}, []models.AttachmentInput{
		fileInput("", "one.pdf"), fileInput("", "one-copy.pdf"),
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := st.CreateAttachmentsWithBlob(ctx, other.ID, models.BlobReference{ID: "bl-two"}, []models.AttachmentInput{fileInput("", "two.pdf")}); err != nil {
		t.Fatalf("upload other: %v", err)
	}
	if _, err := st.CreateAttachment(ctx, expense.ID, fileInput("bl-two", "two-shared.pdf")); err != nil {
		t.Fatalf("share blob: %v", err)
	}
	if _, err := st.CreateAttachment(ctx, expense.ID, linkInput("https://example.com/receipt")); err != nil {
		t.Fatalf("link: %v", err)
	}

	result, err := st.DeleteExpense(ctx, expense.ID)
	if err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	if len(result.Attachments) != 4 {
		t.Fatalf("expected 4 deleted attachments, got %d", len(result.Attachments))
	}
	orphaned := result.OrphanedBlobIDs()
	if len(orphaned) != 1 || orphaned[0] != "bl-one" {
		t.Fatalf("expected bl-one orphaned, got %v", orphaned)
	}
	if got := blobTotal(t, st, "bl-two"); got.Count() != 1 {
		t.Fatalf("expected bl-two at 1, got %s", got)
	}
	if _, err := st.GetExpense(ctx, expense.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expense gone, got %v", err)
	}
	if _, err := st.DeleteExpense(ctx, expense.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
