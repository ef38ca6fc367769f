package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations creates the database schema.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id SERIAL PRIMARY KEY,
			external_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			institution_name TEXT NOT NULL DEFAULT '',
			user_id BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'created',
			last_sync_at TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (provider, external_id)
		)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			id SERIAL PRIMARY KEY,
			external_id TEXT NOT NULL,
			connection_id INTEGER NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
			provider TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'bank',
			category TEXT NOT NULL DEFAULT 'checking',
			balance DECIMAL(14, 2) NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'BRL',
			credit_limit DECIMAL(14, 2),
			credit_available DECIMAL(14, 2),
			last_sync_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (provider, external_id)
		)`,

		`CREATE TABLE IF NOT EXISTS expenses (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			establishment_name TEXT NOT NULL,
			amount DECIMAL(14, 2) NOT NULL,
			date DATE NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			subcategory TEXT NOT NULL DEFAULT '',
			is_fixed_cost BOOLEAN NOT NULL DEFAULT FALSE,
			source TEXT NOT NULL DEFAULT 'manual',
			transaction_id INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			external_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			description TEXT NOT NULL DEFAULT '',
			amount DECIMAL(14, 2) NOT NULL,
			date DATE NOT NULL,
			provider_category TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL,
			payment_method TEXT NOT NULL DEFAULT '',
			counterparty_name TEXT NOT NULL DEFAULT '',
			synced BOOLEAN NOT NULL DEFAULT FALSE,
			expense_id INTEGER REFERENCES expenses(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (provider, external_id)
		)`,

		`CREATE TABLE IF NOT EXISTS merchant_aliases (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			merchant_key TEXT NOT NULL,
			category TEXT NOT NULL,
			subcategory TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, merchant_key)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_accounts_connection_id ON accounts(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_user_id ON expenses(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(date)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_source ON expenses(source)`,
	}

	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}
