package videogen

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/providers/video"
	"server/internal/subscription"
)

// BuildPrompt renders the request as a scene description for both providers.
func BuildPrompt(req domain.GenerationRequest) string {
	orientation := "upright"
	if req.Card.Reversed {
		orientation = "reversed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "A cinematic %s style tarot scene of the card %q, %s", strings.ToLower(req.Style), req.Card.Name, orientation)
	if p := strings.TrimSpace(req.Position); p != "" {
		fmt.Fprintf(&b, ", drawn in the %q position", p)
	}
	fmt.Fprintf(&b, ", reflecting on the question: %q", strings.TrimSpace(req.Question))
	return b.String()
}

// Submit runs the submission pipeline: cache lookup, quota reservation,
// best-effort keyframe, video job creation, job record and detached
// settlement. The request must already be validated and entitlement-checked.
func (s *Service) Submit(ctx context.Context, userID string, limits subscription.Limits, req domain.GenerationRequest) (*SubmitResult, error) {
	if s.video == nil {
		return nil, domain.ErrProviderUnavailable
	}

	fp := Fingerprint(req, s.cfg.Size)

	// A hit short-circuits before any reservation or provider call.
	if _, meta, ok := s.cache.Get(ctx, fp); ok {
		s.logger.Info().Str("cache_key", fp).Str("user_id", userID).Msg("video served from cache")
		return &SubmitResult{
			Status:      domain.JobStatusCompleted,
			CacheKey:    fp,
			Cached:      true,
			ArtifactKey: ArtifactKey(fp),
			ContentType: meta.ContentType,
		}, nil
	}

	res, err := s.quota.Reserve(ctx, s.cfg.Feature, userID, limits.MaxPerDay)
	if err != nil {
		return nil, fmt.Errorf("videogen: reserve quota: %w", err)
	}
	if !res.Allowed {
		return nil, &QuotaError{Remaining: res.Remaining, ResetsAt: res.ResetsAt}
	}

	prompt := BuildPrompt(req)
	keyframe := s.keyframe(ctx, prompt)

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	handle, err := s.video.Submit(submitCtx, video.SubmitRequest{
		Prompt:         prompt,
		ReferenceImage: keyframe,
		Size:           s.cfg.Size,
		Seconds:        req.Seconds,
	})
	cancel()
	if err != nil {
		// Submission failure is fatal: hand the fresh slot straight back.
		if rerr := s.quota.Refund(ctx, res.Key, "submit-failed"); rerr != nil {
			s.logger.Error().Err(rerr).Str("key", res.Key).Msg("refund after failed submission failed")
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}

	job := &domain.GenerationJob{
		ID:              uuid.NewString(),
		OwnerID:         userID,
		CacheKey:        fp,
		ProviderJobID:   handle,
		Status:          domain.JobStatusPending,
		Prompt:          prompt,
		Style:           req.Style,
		Seconds:         req.Seconds,
		Size:            s.cfg.Size,
		ReservationKey:  res.Key,
		ReservationDate: res.DateKey,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.jobs.Put(ctx, job); err != nil {
		if rerr := s.quota.Refund(ctx, res.Key, "record-write-failed"); rerr != nil {
			s.logger.Error().Err(rerr).Str("key", res.Key).Msg("refund after failed record write failed")
		}
		return nil, fmt.Errorf("videogen: persist job: %w", err)
	}

	s.scheduleSettlement(job)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("cache_key", fp).
		Str("user_id", userID).
		Int("remaining_quota", res.Remaining).
		Msg("video job submitted")

	return &SubmitResult{
		Status:           domain.JobStatusPending,
		JobID:            job.ID,
		CacheKey:         fp,
		EstimatedSeconds: estimateSeconds(req.Seconds),
	}, nil
}

func estimateSeconds(videoSeconds int) int {
	return 30 + 2*videoSeconds
}
