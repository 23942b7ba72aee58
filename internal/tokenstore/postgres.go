package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool the Postgres backend uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend stores session keys in the session_kv table.
type PostgresBackend struct {
	db  DBTX
	ttl time.Duration
}

// NewPostgresBackend returns a backend over db. A zero ttl never expires rows.
func NewPostgresBackend(db DBTX, ttl time.Duration) *PostgresBackend {
	return &PostgresBackend{db: db, ttl: ttl}
}

// Get reads a live row. With a ttl the row's expiry moves ttl past now in the
// same statement.
func (p *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	const selectQuery = `
        SELECT value FROM session_kv
        WHERE key=$1 AND (expires_at IS NULL OR expires_at > NOW())`
	const touchQuery = `
        UPDATE session_kv SET expires_at=$2, updated_at=NOW()
        WHERE key=$1 AND (expires_at IS NULL OR expires_at > NOW())
        RETURNING value`

	var row pgx.Row
	if expiresAt := p.expiry(); expiresAt != nil {
		row = p.db.QueryRow(ctx, touchQuery, key, expiresAt)
	} else {
		row = p.db.QueryRow(ctx, selectQuery, key)
	}

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (p *PostgresBackend) Set(ctx context.Context, key, value string) error {
	const query = `
        INSERT INTO session_kv (key, value, expires_at, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (key) DO UPDATE
        SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at, updated_at=NOW()`

	_, err := p.db.Exec(ctx, query, key, value, p.expiry())
	return err
}

func (p *PostgresBackend) expiry() *time.Time {
	if p.ttl <= 0 {
		return nil
	}
	t := time.Now().Add(p.ttl)
	return &t
}

func (p *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.db.Exec(ctx, `DELETE FROM session_kv WHERE key = ANY($1)`, keys)
	return err
}

// Purge deletes expired rows.
func (p *PostgresBackend) Purge(ctx context.Context) (int64, error) {
	cmd, err := p.db.Exec(ctx, `DELETE FROM session_kv WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
