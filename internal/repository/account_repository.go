package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/finsync/internal/database"
	"gitlab.com/yelinaung/finsync/internal/models"
)

// AccountRepository handles account database operations.
type AccountRepository struct {
	db database.PGXDB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db database.PGXDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, external_id, connection_id, provider, name, kind, category, balance, currency, credit_limit, credit_available, last_sync_at, created_at, updated_at`

// Upsert inserts an account or refreshes its mutable fields, keyed by
// (provider, external id). The internal id is filled on the model.
func (r *AccountRepository) Upsert(ctx context.Context, acc *models.Account) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO accounts (external_id, connection_id, provider, name, kind, category, balance, currency, credit_limit, credit_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			balance = EXCLUDED.balance,
			credit_limit = EXCLUDED.credit_limit,
			credit_available = EXCLUDED.credit_available,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, acc.ExternalID, acc.ConnectionID, acc.Provider, acc.Name, acc.Kind, acc.Category,
		acc.Balance, acc.Currency, acc.CreditLimit, acc.CreditAvailable,
	).Scan(&acc.ID, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetByExternalID retrieves an account by its provider-side id. Returns nil
// when no row matches.
func (r *AccountRepository) GetByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE provider = $1 AND external_id = $2
	`, p, externalID)

	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by external id: %w", err)
	}
	return acc, nil
}

// ListByConnection retrieves all accounts under one connection.
func (r *AccountRepository) ListByConnection(ctx context.Context, connectionID int) ([]models.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE connection_id = $1
		ORDER BY id
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// UpdateBalance refreshes the balance fields after a provider fetch.
func (r *AccountRepository) UpdateBalance(ctx context.Context, id int, balance decimal.Decimal, creditAvailable *decimal.Decimal, syncedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET balance = $2, credit_available = $3, last_sync_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, balance, creditAvailable, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(
		&acc.ID, &acc.ExternalID, &acc.ConnectionID, &acc.Provider, &acc.Name, &acc.Kind,
		&acc.Category, &acc.Balance, &acc.Currency, &acc.CreditLimit, &acc.CreditAvailable,
		&acc.LastSyncAt, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
