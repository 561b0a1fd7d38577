// Package videogen orchestrates the two-stage media generation pipeline:
// an optional image keyframe conditions a mandatory asynchronous video job.
// It owns request fingerprinting, the artifact cache, quota settlement and
// the background settlement worker.
package videogen

import (
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/jobstate"
	"server/internal/providers/image"
	"server/internal/providers/video"
	"server/internal/quota"
)

// Config carries all tunables; nothing in this package reads process-wide
// state.
type Config struct {
	Feature      string
	Size         string
	KeyframeMode string

	ImageTimeout  time.Duration
	SubmitTimeout time.Duration
	StatusTimeout time.Duration
	FetchTimeout  time.Duration

	Settle SettleConfig
}

// SettleConfig shapes the background settlement loop.
type SettleConfig struct {
	InitialDelay time.Duration
	RetryDelay   time.Duration
	MaxAttempts  int
}

// Deps are the collaborators the service orchestrates. Image may be nil
// (keyframes are best-effort); a nil Video makes every submission fail with
// domain.ErrProviderUnavailable.
type Deps struct {
	Image  image.Generator
	Video  video.Generator
	Cache  *ArtifactCache
	Jobs   *jobstate.Store
	Quota  *quota.Manager
	Pool   *Pool
	Logger zerolog.Logger
}

type Service struct {
	cfg    Config
	image  image.Generator
	video  video.Generator
	cache  *ArtifactCache
	jobs   *jobstate.Store
	quota  *quota.Manager
	pool   *Pool
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.Feature == "" {
		cfg.Feature = "video"
	}
	if cfg.Settle.MaxAttempts <= 0 {
		cfg.Settle.MaxAttempts = 1
	}
	return &Service{
		cfg:    cfg,
		image:  deps.Image,
		video:  deps.Video,
		cache:  deps.Cache,
		jobs:   deps.Jobs,
		quota:  deps.Quota,
		pool:   deps.Pool,
		logger: deps.Logger,
		now:    time.Now,
	}
}

// QuotaError carries denial details for the 429 response.
type QuotaError struct {
	Remaining int
	ResetsAt  time.Time
}

func (e *QuotaError) Error() string { return "daily video quota exceeded" }
func (e *QuotaError) Unwrap() error { return domain.ErrQuotaExceeded }

// SubmitResult is returned for both cache hits and freshly created jobs.
type SubmitResult struct {
	Status           domain.JobStatus
	JobID            string
	CacheKey         string
	Cached           bool
	ArtifactKey      string
	ContentType      string
	EstimatedSeconds int
}
