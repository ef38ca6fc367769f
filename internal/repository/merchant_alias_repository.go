package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/finsync/internal/database"
	"gitlab.com/yelinaung/finsync/internal/models"
)

// MerchantAliasRepository handles learned merchant memory. It implements
// category.AliasStore.
type MerchantAliasRepository struct {
	db database.PGXDB
}

// NewMerchantAliasRepository creates a new MerchantAliasRepository.
func NewMerchantAliasRepository(db database.PGXDB) *MerchantAliasRepository {
	return &MerchantAliasRepository{db: db}
}

// Get retrieves an alias by user and normalized merchant key. Returns nil
// when no alias exists.
func (r *MerchantAliasRepository) Get(ctx context.Context, userID int64, merchantKey string) (*models.MerchantAlias, error) {
	var alias models.MerchantAlias
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, merchant_key, category, subcategory, confidence, last_used_at, created_at
		FROM merchant_aliases
		WHERE user_id = $1 AND merchant_key = $2
	`, userID, merchantKey).Scan(
		&alias.ID, &alias.UserID, &alias.MerchantKey, &alias.Category,
		&alias.Subcategory, &alias.Confidence, &alias.LastUsedAt, &alias.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant alias: %w", err)
	}
	return &alias, nil
}

// Upsert writes an alias, keyed by (user, merchant key). Writes are
// idempotent so concurrent invocations need no locking.
func (r *MerchantAliasRepository) Upsert(ctx context.Context, alias *models.MerchantAlias) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO merchant_aliases (user_id, merchant_key, category, subcategory, confidence, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, merchant_key) DO UPDATE SET
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			confidence = EXCLUDED.confidence,
			last_used_at = EXCLUDED.last_used_at
		RETURNING id, created_at
	`, alias.UserID, alias.MerchantKey, alias.Category, alias.Subcategory,
		alias.Confidence, alias.LastUsedAt,
	).Scan(&alias.ID, &alias.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert merchant alias: %w", err)
	}
	return nil
}

// TouchLastUsed refreshes the last-used timestamp on an alias cache hit.
func (r *MerchantAliasRepository) TouchLastUsed(ctx context.Context, userID int64, merchantKey string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE merchant_aliases SET last_used_at = NOW()
		WHERE user_id = $1 AND merchant_key = $2
	`, userID, merchantKey)
	if err != nil {
		return fmt.Errorf("failed to touch merchant alias: %w", err)
	}
	return nil
}
