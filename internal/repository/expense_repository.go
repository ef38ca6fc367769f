package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/finsync/internal/database"
	"gitlab.com/yelinaung/finsync/internal/models"
)

// ExpenseRepository handles expense database operations.
type ExpenseRepository struct {
	db database.PGXDB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db database.PGXDB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `id, user_id, establishment_name, amount, date, category, subcategory, is_fixed_cost, source, transaction_id, created_at, updated_at`

// Create adds a new expense.
func (r *ExpenseRepository) Create(ctx context.Context, expense *models.Expense) error {
	if expense.Source == "" {
		expense.Source = models.ExpenseSourceManual
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO expenses (user_id, establishment_name, amount, date, category, subcategory, is_fixed_cost, source, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, expense.UserID, expense.EstablishmentName, expense.Amount, expense.Date,
		expense.Category, expense.Subcategory, expense.IsFixedCost, expense.Source, expense.TransactionID,
	).Scan(&expense.ID, &expense.CreatedAt, &expense.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

// GetByID retrieves an expense by ID.
func (r *ExpenseRepository) GetByID(ctx context.Context, id int) (*models.Expense, error) {
	row := r.db.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, id)
	exp, err := scanExpense(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return exp, nil
}

// GetByTransactionID retrieves the expense materialized from a transaction.
// Returns nil when none exists.
func (r *ExpenseRepository) GetByTransactionID(ctx context.Context, transactionID int) (*models.Expense, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+expenseColumns+` FROM expenses WHERE transaction_id = $1
	`, transactionID)

	exp, err := scanExpense(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense by transaction: %w", err)
	}
	return exp, nil
}

// ListManualByDateRange retrieves a user's manually entered expenses within
// a date window. The dedup engine builds its index over these.
func (r *ExpenseRepository) ListManualByDateRange(ctx context.Context, userID int64, from, to time.Time) ([]models.Expense, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE user_id = $1 AND source = $2 AND date >= $3 AND date <= $4
		ORDER BY date, id
	`, userID, models.ExpenseSourceManual, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query manual expenses: %w", err)
	}
	defer rows.Close()

	return collectExpenses(rows)
}

// ListByUser retrieves a user's expenses, newest first.
func (r *ExpenseRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Expense, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE user_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	return collectExpenses(rows)
}

func scanExpense(row pgx.Row) (*models.Expense, error) {
	var exp models.Expense
	err := row.Scan(
		&exp.ID, &exp.UserID, &exp.EstablishmentName, &exp.Amount, &exp.Date,
		&exp.Category, &exp.Subcategory, &exp.IsFixedCost, &exp.Source,
		&exp.TransactionID, &exp.CreatedAt, &exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

func collectExpenses(rows pgx.Rows) ([]models.Expense, error) {
	var expenses []models.Expense
	for rows.Next() {
		exp, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, *exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}
	return expenses, nil
}
