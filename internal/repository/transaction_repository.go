package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/finsync/internal/database"
	"gitlab.com/yelinaung/finsync/internal/models"
)

// TransactionRepository handles raw transaction database operations.
type TransactionRepository struct {
	db database.PGXDB
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db database.PGXDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, external_id, provider, account_id, description, amount, date, provider_category, direction, payment_method, counterparty_name, synced, expense_id, created_at`

// Insert stores a transaction once per (provider, external id). Re-delivery
// is a no-op: the uniqueness constraint absorbs the conflict and inserted is
// false. When the row already exists, the model is populated from the stored
// copy so callers can still inspect the synced flag and expense link.
func (r *TransactionRepository) Insert(ctx context.Context, tx *models.RawTransaction) (inserted bool, err error) {
	err = r.db.QueryRow(ctx, `
		INSERT INTO transactions (external_id, provider, account_id, description, amount, date, provider_category, direction, payment_method, counterparty_name, synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, external_id) DO NOTHING
		RETURNING id, created_at
	`, tx.ExternalID, tx.Provider, tx.AccountID, tx.Description, tx.Amount, tx.Date,
		tx.ProviderCategory, tx.Direction, tx.PaymentMethod, tx.CounterpartyName, tx.Synced,
	).Scan(&tx.ID, &tx.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := r.GetByExternalID(ctx, tx.Provider, tx.ExternalID)
		if getErr != nil {
			return false, getErr
		}
		if existing != nil {
			*tx = *existing
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return true, nil
}

// GetByExternalID retrieves a transaction by its provider-side id. Returns
// nil when no row matches.
func (r *TransactionRepository) GetByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.RawTransaction, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE provider = $1 AND external_id = $2
	`, p, externalID)

	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by external id: %w", err)
	}
	return tx, nil
}

// GetByID retrieves a transaction by internal id.
func (r *TransactionRepository) GetByID(ctx context.Context, id int) (*models.RawTransaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListByAccount retrieves transactions for one account, newest first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID, limit int) ([]models.RawTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// MarkSynced flags a transaction as processed without materializing an
// expense. Used for duplicates of manual entries.
func (r *TransactionRepository) MarkSynced(ctx context.Context, id int) error {
	_, err := r.db.Exec(ctx, `UPDATE transactions SET synced = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark transaction synced: %w", err)
	}
	return nil
}

// LinkExpense permanently links a transaction to its materialized expense
// and flags it synced.
func (r *TransactionRepository) LinkExpense(ctx context.Context, id, expenseID int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transactions SET expense_id = $2, synced = TRUE WHERE id = $1
	`, id, expenseID)
	if err != nil {
		return fmt.Errorf("failed to link transaction to expense: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*models.RawTransaction, error) {
	var tx models.RawTransaction
	err := row.Scan(
		&tx.ID, &tx.ExternalID, &tx.Provider, &tx.AccountID, &tx.Description, &tx.Amount,
		&tx.Date, &tx.ProviderCategory, &tx.Direction, &tx.PaymentMethod, &tx.CounterpartyName,
		&tx.Synced, &tx.ExpenseID, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]models.RawTransaction, error) {
	var txs []models.RawTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}
