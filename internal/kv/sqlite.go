package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
    key        TEXT PRIMARY KEY,
    value      BLOB,
    counter    INTEGER NOT NULL DEFAULT 0,
    expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS kv_entries_expires_at_idx ON kv_entries (expires_at);
`

// SQLiteStore implements Store on a local SQLite database for single-node
// and development deployments. Expiry is tracked as a unix timestamp.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: ensure schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now().UTC().Unix()
	const q = `
INSERT INTO kv_entries (key, counter, expires_at) VALUES (?, 1, ?)
ON CONFLICT (key) DO UPDATE SET
    counter = CASE
        WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= ?3 THEN 1
        ELSE kv_entries.counter + 1
    END,
    expires_at = CASE
        WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= ?3 THEN ?4
        ELSE kv_entries.expires_at
    END
RETURNING counter`
	var n int64
	if err := s.db.QueryRowContext(ctx, q, key, unixExpiry(ttl), now, unixExpiry(ttl)).Scan(&n); err != nil {
		return 0, fmt.Errorf("kv: incr %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("counter", n).Msg("kv incr")
	return n, nil
}

func (s *SQLiteStore) Decr(ctx context.Context, key string) (int64, error) {
	const q = `UPDATE kv_entries SET counter = MAX(counter - 1, 0) WHERE key = ? RETURNING counter`
	var n int64
	err := s.db.QueryRowContext(ctx, q, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kv: decr %s: %w", key, err)
	}
	return n, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const q = `SELECT value FROM kv_entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`
	var value []byte
	err := s.db.QueryRowContext(ctx, q, key, time.Now().UTC().Unix()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `
INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = ?2, expires_at = ?3`
	if _, err := s.db.ExecContext(ctx, q, key, value, unixExpiry(ttl)); err != nil {
		return fmt.Errorf("kv: put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixExpiry(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return time.Now().UTC().Add(ttl).Unix()
}

var _ Store = (*SQLiteStore)(nil)
