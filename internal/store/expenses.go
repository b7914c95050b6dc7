package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tally/internal/models"
)

const expenseColumns = "id, project_id, name, description, amount_cents, currency, category, spent_on, creator_id, created_at, updated_at"

// CreateExpense inserts an expense. ID and timestamps are assigned when empty.
func (s *Store) CreateExpense(ctx context.Context, expense *models.Expense) error {
	if expense == nil {
		return invalidInput("expense is required")
	}
	if strings.TrimSpace(expense.Name) == "" {
		return invalidInput("expense name is required")
	}
	currency, err := models.NormalizeCurrency(expense.Currency)
	if err != nil {
		return invalidInput("%v", err)
	}
	expense.Currency = currency

	return s.withTx(ctx, "create expense", func(tx *sql.Tx) error {
		if expense.ID == "" {
			id, err := GenerateExpenseID(func(candidate string) (bool, error) {
				return s.expenseExists(ctx, tx, candidate)
			})
			if err != nil {
				return err
			}
			expense.ID = id
		}
		now := s.now()
		if expense.CreatedAt.IsZero() {
			expense.CreatedAt = now
		}
		if expense.UpdatedAt.IsZero() {
			expense.UpdatedAt = expense.CreatedAt
		}

		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO expenses (`+expenseColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			expense.ID,
			nullIfEmpty(expense.ProjectID),
			strings.TrimSpace(expense.Name),
			nullIfEmpty(expense.Description),
			expense.AmountCents,
			expense.Currency,
			nullIfEmpty(expense.Category),
			nullIfEmpty(expense.SpentOn),
			nullIfEmpty(expense.CreatorID),
			formatTime(expense.CreatedAt),
			formatTime(expense.UpdatedAt),
		)
		return err
	})
}

// GetExpense returns one expense.
func (s *Store) GetExpense(ctx context.Context, id string) (*models.Expense, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`), id)
	expense, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("expense", id)
	}
	if err != nil {
		return nil, storageUnavailable("get expense", err)
	}
	return expense, nil
}

// ListExpenses lists expenses newest first, optionally scoped to a project.
func (s *Store) ListExpenses(ctx context.Context, projectID string, limit int) ([]models.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses`
	var args []any
	if projectID = strings.TrimSpace(projectID); projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storageUnavailable("list expenses", err)
	}
	defer rows.Close()

	var out []models.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, storageUnavailable("list expenses", err)
		}
		out = append(out, *expense)
	}
	if err := rows.Err(); err != nil {
		return nil, storageUnavailable("list expenses", err)
	}
	return out, nil
}

// ExpenseUpdate lists the fields to change. Nil fields are left alone.
type ExpenseUpdate struct {
	Name        *string
	Description *string
	AmountCents *int64
	Currency    *string
	Category    *string
	SpentOn     *string
}

// UpdateExpense applies update and returns the stored expense. Attachments
// and blob counters are not touched.
func (s *Store) UpdateExpense(ctx context.Context, id string, update ExpenseUpdate) (*models.Expense, error) {
	set := []string{}
	args := []any{}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, invalidInput("expense name is required")
		}
		set = append(set, "name = ?")
		args = append(args, name)
	}
	if update.Description != nil {
		set = append(set, "description = ?")
		args = append(args, nullIfEmpty(strings.TrimSpace(*update.Description)))
	}
	if update.AmountCents != nil {
		if *update.AmountCents < 0 {
			return nil, invalidInput("amount_cents must be >= 0")
		}
		set = append(set, "amount_cents = ?")
		args = append(args, *update.AmountCents)
	}
	if update.Currency != nil {
		currency, err := models.NormalizeCurrency(*update.Currency)
		if err != nil {
			return nil, invalidInput("%v", err)
		}
		set = append(set, "currency = ?")
		args = append(args, currency)
	}
	if update.Category != nil {
		set = append(set, "category = ?")
		args = append(args, nullIfEmpty(strings.TrimSpace(*update.Category)))
	}
	if update.SpentOn != nil {
		set = append(set, "spent_on = ?")
		args = append(args, nullIfEmpty(*update.SpentOn))
	}

	var expense *models.Expense
	err := s.withTx(ctx, "update expense", func(tx *sql.Tx) error {
		if err := s.ensureExpenseTx(ctx, tx, id); err != nil {
			return err
		}
		if len(set) > 0 {
			set = append(set, "updated_at = ?")
			args = append(args, formatTime(s.now()), id)
			query := fmt.Sprintf("UPDATE expenses SET %s WHERE id = ?", strings.Join(set, ", "))
			if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
				return err
			}
		}
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`), id)
		var err error
		expense, err = scanExpense(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return expense, nil
}

// DeleteExpense deletes an expense together with all of its attachments,
// releasing their blob references, in one transaction.
func (s *Store) DeleteExpense(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := s.withTx(ctx, "delete expense", func(tx *sql.Tx) error {
		if err := s.ensureExpenseTx(ctx, tx, id); err != nil {
			return err
		}
		var err error
		result, err = s.deleteAttachmentsTx(ctx, tx, AttachmentFilter{OwnerID: id})
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM expenses WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return notFound("expense", id)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

func (s *Store) ensureExpenseTx(ctx context.Context, tx *sql.Tx, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidInput("owner id is required")
	}
	exists, err := s.expenseExists(ctx, tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return notFound("expense", id)
	}
	return nil
}

func (s *Store) expenseExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, s.rebind("SELECT 1 FROM expenses WHERE id = ? LIMIT 1"), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanExpense(scanner interface{ Scan(dest ...any) error }) (*models.Expense, error) {
	var (
		expense     models.Expense
		projectID   sql.NullString
		description sql.NullString
		category    sql.NullString
		spentOn     sql.NullString
		creatorID   sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(
		&expense.ID,
		&projectID,
		&expense.Name,
		&description,
		&expense.AmountCents,
		&expense.Currency,
		&category,
		&spentOn,
		&creatorID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	expense.ProjectID = projectID.String
	expense.Description = description.String
	expense.Category = category.String
	expense.SpentOn = spentOn.String
	expense.CreatorID = creatorID.String

	var err error
	if expense.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if expense.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &expense, nil
}
