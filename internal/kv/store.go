// Package kv provides the durable key-value store backing quota counters and
// job state records. Two production backends exist (Postgres and SQLite) plus
// an in-memory store for tests; all expose the same atomic increment, which
// is the single correctness-critical primitive of quota accounting.
package kv

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Store is the contract consumed by the quota manager and job state store.
// A ttl of zero means the entry does not expire.
type Store interface {
	// Incr atomically increments the counter at key and returns the
	// post-increment value. An expired counter restarts at 1.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr atomically decrements the counter at key, never below zero.
	Decr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open selects a backend from the database URL scheme: postgres:// and
// postgresql:// use pgx, anything else is treated as a SQLite path.
func Open(ctx context.Context, databaseURL string, logger zerolog.Logger) (Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return OpenPostgres(ctx, databaseURL, logger)
	}
	return OpenSQLite(strings.TrimPrefix(databaseURL, "sqlite://"), logger)
}
