// Package repository provides database access for the sync service's
// aggregates. Every repository accepts database.PGXDB so it works with a
// pool or a transaction.
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

// ConnectionRepository handles connection database operations.
type ConnectionRepository struct {
	db database.PGXDB
}

// NewConnectionRepository creates a new ConnectionRepository.
func NewConnectionRepository(db database.PGXDB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, external_id, provider, institution_name, user_id, status, last_sync_at, last_error, created_at, updated_at`

// Upsert inserts a connection or refreshes its mutable fields, keyed by
// (provider, external id). The internal id is filled on the model.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *models.Connection) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO connections (external_id, provider, institution_name, user_id, status, last_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			institution_name = EXCLUDED.institution_name,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, conn.ExternalID, conn.Provider, conn.InstitutionName, conn.UserID, conn.Status, conn.LastError,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// GetByExternalID retrieves a connection by its provider-side id. Returns
// nil when no row matches.
func (r *ConnectionRepository) GetByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.Connection, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE provider = $1 AND external_id = $2
	`, p, externalID)

	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by external id: %w", err)
	}
	return conn, nil
}

// GetByID retrieves a connection by internal id.
func (r *ConnectionRepository) GetByID(ctx context.Context, id int) (*models.Connection, error) {
	row := r.db.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// ListActive retrieves all connections that have not been deleted. The cron
// poller iterates these.
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]models.Connection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE status != $1
		ORDER BY id
	`, models.ConnectionStatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

// UpdateStatus sets the connection status and last error message.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id int, status models.ConnectionStatus, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE connections SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return nil
}

// MarkSynced records a successful sync timestamp.
func (r *ConnectionRepository) MarkSynced(ctx context.Context, id int, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE connections SET last_sync_at = $2, last_error = '', updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark connection synced: %w", err)
	}
	return nil
}

// Delete removes a connection; accounts and transactions cascade.
func (r *ConnectionRepository) Delete(ctx context.Context, id int) error {
	_, err := r.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var conn models.Connection
	err := row.Scan(
		&conn.ID, &conn.ExternalID, &conn.Provider, &conn.InstitutionName, &conn.UserID,
		&conn.Status, &conn.LastSyncAt, &conn.LastError, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}
