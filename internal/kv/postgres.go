package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"server/internal/infra"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
    key        TEXT PRIMARY KEY,
    value      BYTEA,
    counter    BIGINT NOT NULL DEFAULT 0,
    expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS kv_entries_expires_at_idx ON kv_entries (expires_at);
`

// PostgresStore implements Store on a pgx connection pool. Increments are
// single UPSERT statements so they stay atomic under concurrent callers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPostgres connects a pool and ensures the kv schema exists.
func OpenPostgres(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := infra.NewDBPool(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("kv: connect database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	// An expired row restarts at 1 so yesterday's counter never leaks into
	// today's window.
	const q = `
INSERT INTO kv_entries (key, counter, expires_at) VALUES ($1, 1, $2)
ON CONFLICT (key) DO UPDATE SET
    counter = CASE
        WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now() THEN 1
        ELSE kv_entries.counter + 1
    END,
    expires_at = CASE
        WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now() THEN $2
        ELSE kv_entries.expires_at
    END
RETURNING counter`
	var n int64
	if err := s.pool.QueryRow(ctx, q, key, expiry(ttl)).Scan(&n); err != nil {
		return 0, fmt.Errorf("kv: incr %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("counter", n).Msg("kv incr")
	return n, nil
}

func (s *PostgresStore) Decr(ctx context.Context, key string) (int64, error) {
	const q = `UPDATE kv_entries SET counter = GREATEST(counter - 1, 0) WHERE key = $1 RETURNING counter`
	var n int64
	err := s.pool.QueryRow(ctx, q, key).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kv: decr %s: %w", key, err)
	}
	return n, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const q = `SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	var value []byte
	err := s.pool.QueryRow(ctx, q, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: get %s: %w", key, err)
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `
INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3`
	if _, err := s.pool.Exec(ctx, q, key, value, expiry(ttl)); err != nil {
		return fmt.Errorf("kv: put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func expiry(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return time.Now().UTC().Add(ttl)
}

var _ Store = (*PostgresStore)(nil)
