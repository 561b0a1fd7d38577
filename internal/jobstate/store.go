// Package jobstate persists in-flight generation jobs as TTL-bounded JSON
// records in the KV store. The TTL bounds how long a client may poll before
// the job is considered abandoned; background settlement does not depend on
// the record surviving.
package jobstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/kv"
)

// DefaultTTL bounds the poll window for a job record.
const DefaultTTL = time.Hour

type Store struct {
	store kv.Store
	ttl   time.Duration
}

func NewStore(store kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{store: store, ttl: ttl}
}

// Put writes the job record, resetting its TTL.
func (s *Store) Put(ctx context.Context, job *domain.GenerationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstate: encode %s: %w", job.ID, err)
	}
	if err := s.store.Put(ctx, recordKey(job.ID), data, s.ttl); err != nil {
		return fmt.Errorf("jobstate: put %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a job record; domain.ErrNotFound when absent or expired.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	data, ok, err := s.store.Get(ctx, recordKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("jobstate: get %s: %w", jobID, err)
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	var job domain.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("jobstate: decode %s: %w", jobID, err)
	}
	return &job, nil
}

func recordKey(jobID string) string {
	return "job:" + jobID
}
