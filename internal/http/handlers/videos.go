package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/subscription"
	"server/internal/videogen"
)

// VideosGenerate accepts a reading video request and either serves it from
// the artifact cache or starts an asynchronous generation job.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	limits := subscription.ForTier(middleware.TierFromContext(r.Context()))
	if !limits.Enabled {
		a.error(w, http.StatusForbidden, "tier_forbidden", "video generation is not available on your plan")
		return
	}

	req.ApplyDefaults(limits.DefaultStyle())
	if violations := req.Validate(subscription.StyleCatalog); len(violations) > 0 {
		a.json(w, http.StatusBadRequest, map[string]any{
			"error":      "validation_failed",
			"message":    strings.Join(violations, "; "),
			"violations": violations,
		})
		return
	}
	if req.Seconds > limits.MaxSeconds || !limits.StyleAllowed(req.Style) {
		a.json(w, http.StatusForbidden, map[string]any{
			"error":         "tier_forbidden",
			"message":       "requested style or duration exceeds your plan",
			"allowedStyles": limits.Styles,
			"maxSeconds":    limits.MaxSeconds,
		})
		return
	}

	result, err := a.Service.Submit(r.Context(), userID, limits, req)
	if err != nil {
		var qe *videogen.QuotaError
		switch {
		case errors.Is(err, domain.ErrProviderUnavailable):
			a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "video generation is not configured")
		case errors.As(err, &qe):
			a.json(w, http.StatusTooManyRequests, map[string]any{
				"error":     "quota_exceeded",
				"message":   "daily video quota exceeded",
				"remaining": qe.Remaining,
				"resetsAt":  qe.ResetsAt,
			})
		case errors.Is(err, domain.ErrProviderFailure):
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("video submission failed")
			a.error(w, http.StatusInternalServerError, "provider_error", err.Error())
		default:
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("video submission failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start video generation")
		}
		return
	}

	if result.Cached {
		a.json(w, http.StatusOK, map[string]any{
			"status":      "completed",
			"video":       a.artifactURL(result.ArtifactKey),
			"contentType": result.ContentType,
			"cached":      true,
			"cacheKey":    result.CacheKey,
		})
		return
	}

	a.json(w, http.StatusAccepted, map[string]any{
		"status":           "pending",
		"jobId":            result.JobID,
		"cacheKey":         result.CacheKey,
		"estimatedSeconds": result.EstimatedSeconds,
	})
}

// VideoStatus advances a job toward a terminal state and reports it. The job
// id arrives as a query parameter.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id query parameter required")
		return
	}

	res, err := a.Service.Poll(r.Context(), userID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, domain.ErrForbidden):
			a.error(w, http.StatusForbidden, "forbidden", "job belongs to another user")
		case errors.Is(err, domain.ErrProviderFailure):
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("status check failed")
			a.error(w, http.StatusInternalServerError, "provider_error", "status check failed, try again")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("status check failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to check job status")
		}
		return
	}

	switch res.Status {
	case domain.JobStatusCompleted:
		a.json(w, http.StatusOK, map[string]any{
			"status":      "completed",
			"video":       a.artifactURL(res.ArtifactKey),
			"contentType": res.ContentType,
			"cacheKey":    res.CacheKey,
			"style":       res.Style,
			"seconds":     res.Seconds,
			"createdAt":   res.CreatedAt,
		})
	case domain.JobStatusPending:
		a.json(w, http.StatusOK, map[string]any{"status": "pending", "jobId": jobID})
	default:
		a.json(w, http.StatusOK, map[string]any{"status": string(res.Status)})
	}
}
