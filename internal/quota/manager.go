// Package quota tracks per-user daily usage as reservations against a KV
// counter. Reserve takes a slot atomically; the slot is later settled by the
// caller either by leaving it consumed (finalize) or handing it back (Refund).
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/kv"
)

const dateKeyLayout = "20060102"

// Reservation is the outcome of a Reserve call. When Allowed is false no
// slot was consumed.
type Reservation struct {
	Allowed   bool
	Key       string
	DateKey   string
	Remaining int
	ResetsAt  time.Time
}

// Manager implements reserve/refund over an atomic KV counter keyed by
// (feature, user, UTC calendar day).
type Manager struct {
	store  kv.Store
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(store kv.Store, ttl time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Reserve atomically increments today's counter and compares the
// post-increment value against limit. On denial the provisional slot is
// handed straight back, so the consumed count never exceeds limit even under
// concurrent callers.
func (m *Manager) Reserve(ctx context.Context, feature, userID string, limit int) (Reservation, error) {
	now := m.now().UTC()
	dateKey := now.Format(dateKeyLayout)
	key := counterKey(feature, userID, dateKey)
	resetsAt := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

	res := Reservation{Key: key, DateKey: dateKey, ResetsAt: resetsAt}
	if limit <= 0 {
		return res, nil
	}

	n, err := m.store.Incr(ctx, key, m.ttl)
	if err != nil {
		return res, fmt.Errorf("quota: reserve %s: %w", key, err)
	}
	if n > int64(limit) {
		if _, err := m.store.Decr(ctx, key); err != nil {
			m.logger.Error().Err(err).Str("key", key).Msg("quota: release of denied slot failed")
		}
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - int(n)
	m.logger.Debug().Str("key", key).Int("remaining", res.Remaining).Msg("quota reserved")
	return res, nil
}

// Refund atomically hands a reserved slot back. The counter carries no
// per-call idempotency token, so callers must first verify via the job's
// settlement flags that no prior settlement occurred.
func (m *Manager) Refund(ctx context.Context, key, reason string) error {
	if key == "" {
		return nil
	}
	if _, err := m.store.Decr(ctx, key); err != nil {
		return fmt.Errorf("quota: refund %s: %w", key, err)
	}
	m.logger.Info().Str("key", key).Str("reason", reason).Msg("quota refunded")
	return nil
}

func counterKey(feature, userID, dateKey string) string {
	return fmt.Sprintf("quota:%s:%s:%s", feature, userID, dateKey)
}
