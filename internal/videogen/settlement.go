package videogen

import (
	"context"
	"errors"
	"time"

	"server/internal/domain"
)

// settleTask carries its own copy of the reservation key so settlement can
// still refund after the job record's TTL expires.
type settleTask struct {
	JobID          string
	ProviderJobID  string
	ReservationKey string
}

// scheduleSettlement dispatches the detached settlement task that
// guarantees quota is eventually settled without client polling.
func (s *Service) scheduleSettlement(job *domain.GenerationJob) {
	task := settleTask{
		JobID:          job.ID,
		ProviderJobID:  job.ProviderJobID,
		ReservationKey: job.ReservationKey,
	}
	if !s.pool.Submit(func(ctx context.Context) { s.settle(ctx, task) }) {
		s.logger.Error().Str("job_id", job.ID).Msg("settlement not scheduled, job relies on client polling")
	}
}

// settle waits out the normal completion window, then polls the provider a
// bounded number of times. A job still pending after all attempts gets a
// safety-net refund: returning the slot is preferred over stranding it,
// accepting that a very slow success under-counts one unit of usage.
func (s *Service) settle(ctx context.Context, task settleTask) {
	if !sleepCtx(ctx, s.cfg.Settle.InitialDelay) {
		return
	}

	for attempt := 1; attempt <= s.cfg.Settle.MaxAttempts; attempt++ {
		job, err := s.jobs.Get(ctx, task.JobID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Record expired; keep going on the task's own copies.
		case err != nil:
			s.logger.Warn().Err(err).Str("job_id", task.JobID).Msg("settlement: record read failed")
		default:
			if job.Settled() {
				return
			}
		}

		statusCtx, cancel := context.WithTimeout(ctx, s.cfg.StatusTimeout)
		st, err := s.video.GetStatus(statusCtx, task.ProviderJobID)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", task.JobID).Int("attempt", attempt).Msg("settlement: status check failed")
		} else {
			switch normalizeProviderState(st.State) {
			case domain.JobStatusCompleted:
				s.finalizeUsage(ctx, task.JobID, domain.JobStatusCompleted, "background-complete")
				return
			case domain.JobStatusFailed:
				s.refundUsage(ctx, task.JobID, task.ReservationKey, domain.JobStatusFailed, "background-failed")
				return
			case domain.JobStatusCancelled:
				s.refundUsage(ctx, task.JobID, task.ReservationKey, domain.JobStatusCancelled, "background-failed")
				return
			}
		}

		if attempt < s.cfg.Settle.MaxAttempts && !sleepCtx(ctx, s.cfg.Settle.RetryDelay) {
			return
		}
	}

	s.logger.Warn().Str("job_id", task.JobID).Msg("settlement retries exhausted, refunding reservation")
	s.refundUsage(ctx, task.JobID, task.ReservationKey, "", "background-timeout")
}

// sleepCtx sleeps for d and reports false when ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
