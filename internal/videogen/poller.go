package videogen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"server/internal/domain"
)

// PollResult reports a job's observed state to the client.
type PollResult struct {
	Status      domain.JobStatus
	CacheKey    string
	ArtifactKey string
	ContentType string
	Style       string
	Seconds     int
	CreatedAt   time.Time
}

// Poll advances a job toward a terminal state and settles quota when the
// provider reports a verdict. Repeated polls are safe: settlement re-checks
// the job's flags before mutating anything.
func (s *Service) Poll(ctx context.Context, userID, jobID string) (*PollResult, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != userID {
		return nil, domain.ErrForbidden
	}

	if job.Status.Terminal() {
		return s.pollResult(ctx, job), nil
	}

	statusCtx, cancel := context.WithTimeout(ctx, s.cfg.StatusTimeout)
	st, err := s.video.GetStatus(statusCtx, job.ProviderJobID)
	cancel()
	if err != nil {
		// Ambiguous: no provider verdict, so the job stays pending and the
		// client (or the settlement worker) retries.
		return nil, fmt.Errorf("%w: status check: %v", domain.ErrProviderFailure, err)
	}

	switch normalizeProviderState(st.State) {
	case domain.JobStatusCompleted:
		if _, _, ok := s.cache.Get(ctx, job.CacheKey); !ok {
			fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			data, contentType, ferr := s.video.FetchContent(fetchCtx, st.ResultRef)
			cancel()
			if ferr != nil {
				return nil, fmt.Errorf("%w: fetch content: %v", domain.ErrProviderFailure, ferr)
			}
			meta := ArtifactMeta{ContentType: contentType, Style: job.Style, Seconds: job.Seconds, Size: job.Size}
			if _, cerr := s.cache.Put(ctx, job.CacheKey, data, meta); cerr != nil {
				return nil, fmt.Errorf("videogen: cache artifact: %w", cerr)
			}
		}
		s.finalizeUsage(ctx, job.ID, domain.JobStatusCompleted, "poll-complete")
	case domain.JobStatusFailed:
		s.refundUsage(ctx, job.ID, job.ReservationKey, domain.JobStatusFailed, "poll-failed")
	case domain.JobStatusCancelled:
		s.refundUsage(ctx, job.ID, job.ReservationKey, domain.JobStatusCancelled, "poll-cancelled")
	default:
		return s.pollResult(ctx, job), nil
	}

	job, err = s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.pollResult(ctx, job), nil
}

func (s *Service) pollResult(ctx context.Context, job *domain.GenerationJob) *PollResult {
	out := &PollResult{
		Status:    job.Status,
		CacheKey:  job.CacheKey,
		Style:     job.Style,
		Seconds:   job.Seconds,
		CreatedAt: job.CreatedAt,
	}
	if job.Status == domain.JobStatusCompleted {
		out.ArtifactKey = ArtifactKey(job.CacheKey)
		out.ContentType = defaultContentType
		if _, meta, ok := s.cache.Get(ctx, job.CacheKey); ok {
			out.ContentType = meta.ContentType
		}
	}
	return out
}

// finalizeUsage marks the reservation consumed for good. The observed
// terminal status is always persisted, so a verdict that arrives after the
// safety-net refund still reaches polling clients; only the quota side is
// guarded by the settlement flags.
func (s *Service) finalizeUsage(ctx context.Context, jobID string, status domain.JobStatus, reason string) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("finalize: record read failed")
		}
		return
	}
	settled := job.Settled()
	changed := false
	if status != "" && !job.Status.Terminal() {
		job.Status = status
		changed = true
	}
	if !settled {
		job.UsageFinalized = true
		changed = true
	}
	if changed {
		if err := s.jobs.Put(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("finalize: record write failed")
			return
		}
	}
	if !settled {
		s.logger.Info().Str("job_id", jobID).Str("reason", reason).Msg("usage finalized")
	}
}

// refundUsage hands the reservation back. Like finalizeUsage, the terminal
// status is persisted regardless of the settlement flags. fallbackKey is the
// settlement worker's own copy of the reservation key, used when the job
// record has already expired.
func (s *Service) refundUsage(ctx context.Context, jobID, fallbackKey string, status domain.JobStatus, reason string) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && fallbackKey != "" {
			if rerr := s.quota.Refund(ctx, fallbackKey, reason); rerr != nil {
				s.logger.Error().Err(rerr).Str("key", fallbackKey).Msg("refund without record failed")
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("refund: record read failed")
		}
		return
	}
	settled := job.Settled()
	changed := false
	if status != "" && !job.Status.Terminal() {
		job.Status = status
		changed = true
	}
	if !settled {
		job.UsageRefunded = true
		changed = true
	}
	if changed {
		if err := s.jobs.Put(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("refund: record write failed")
			return
		}
	}
	if settled {
		return
	}
	// The flag is persisted before the decrement runs. If the decrement then
	// fails the slot stays consumed and is only visible in logs; the reverse
	// order would risk a second refund on retry after a crash.
	if err := s.quota.Refund(ctx, job.ReservationKey, reason); err != nil {
		s.logger.Error().Err(err).Str("key", job.ReservationKey).Msg("refund failed")
	}
}

// normalizeProviderState folds provider status vocabulary into the job
// lifecycle states.
func normalizeProviderState(state string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "completed", "succeeded", "success", "done":
		return domain.JobStatusCompleted
	case "failed", "error", "rejected":
		return domain.JobStatusFailed
	case "cancelled", "canceled":
		return domain.JobStatusCancelled
	default:
		return domain.JobStatusPending
	}
}
