package pollstate

import (
	"context"
	"database/sql"
	"errors"
)

// singletonID keys the single poll-state row.
const singletonID = 1

// PostgresStore persists the poll state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed poll-state store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Save(ctx context.Context, blob []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO poll_state (id, blob, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET blob = EXCLUDED.blob, updated_at = NOW()
	`, singletonID, blob)
	return err
}

func (p *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT blob FROM poll_state WHERE id = $1
	`, singletonID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Ping verifies database connectivity for health checks.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
