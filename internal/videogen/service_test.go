package videogen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/jobstate"
	"server/internal/kv"
	"server/internal/providers/video"
	"server/internal/quota"
	"server/internal/storage"
	"server/internal/subscription"
)

type stubImage struct {
	sizes []string
	data  []byte
	err   error
	calls int
}

func (s *stubImage) Generate(ctx context.Context, prompt, size string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func (s *stubImage) SupportedSizes() []string { return s.sizes }

type stubVideo struct {
	mu sync.Mutex

	handle    string
	submitErr error
	submits   int
	lastReq   video.SubmitRequest

	statuses    []video.JobStatus
	statusErr   error
	statusCalls int

	content     []byte
	contentType string
	fetchErr    error
	fetches     int
}

func (s *stubVideo) Submit(ctx context.Context, req video.SubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	s.lastReq = req
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.handle, nil
}

func (s *stubVideo) GetStatus(ctx context.Context, handle string) (video.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	if s.statusErr != nil {
		return video.JobStatus{}, s.statusErr
	}
	if len(s.statuses) == 0 {
		return video.JobStatus{State: "queued"}, nil
	}
	st := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return st, nil
}

func (s *stubVideo) FetchContent(ctx context.Context, resultRef string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, "", s.fetchErr
	}
	return s.content, s.contentType, nil
}

// countingStore counts decrements per key so tests can prove a refund
// happened exactly once.
type countingStore struct {
	kv.Store
	mu    sync.Mutex
	decrs map[string]int
}

func (c *countingStore) Decr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	c.decrs[key]++
	c.mu.Unlock()
	return c.Store.Decr(ctx, key)
}

func (c *countingStore) decrCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decrs[key]
}

type testEnv struct {
	svc   *Service
	kvs   *countingStore
	jobs  *jobstate.Store
	img   *stubImage
	vid   *stubVideo
	cache *ArtifactCache
}

func testLimits() subscription.Limits {
	return subscription.Limits{Enabled: true, Styles: subscription.StyleCatalog, MaxSeconds: 20, MaxPerDay: 5}
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	kvs := &countingStore{Store: kv.NewMemory(), decrs: make(map[string]int)}
	jobs := jobstate.NewStore(kvs, time.Hour)
	qm := quota.NewManager(kvs, 48*time.Hour, zerolog.Nop())
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cache := NewArtifactCache(fs, zerolog.Nop())
	img := &stubImage{sizes: []string{"720x1280"}, data: []byte("png")}
	vid := &stubVideo{handle: "prov-1", content: []byte("mp4"), contentType: "video/mp4"}

	cfg := Config{
		Feature:       "video",
		Size:          "720x1280",
		KeyframeMode:  "auto",
		ImageTimeout:  time.Second,
		SubmitTimeout: time.Second,
		StatusTimeout: time.Second,
		FetchTimeout:  time.Second,
		Settle:        SettleConfig{InitialDelay: 0, RetryDelay: 0, MaxAttempts: 2},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	svc := NewService(cfg, Deps{
		Image:  img,
		Video:  vid,
		Cache:  cache,
		Jobs:   jobs,
		Quota:  qm,
		Pool:   NewPool(16, zerolog.Nop()),
		Logger: zerolog.Nop(),
	})
	return &testEnv{svc: svc, kvs: kvs, jobs: jobs, img: img, vid: vid, cache: cache}
}

func (e *testEnv) submit(t *testing.T, req domain.GenerationRequest) *SubmitResult {
	t.Helper()
	res, err := e.svc.Submit(context.Background(), "u1", testLimits(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.submit(t, baseRequest())

	if res.Status != domain.JobStatusPending || res.JobID == "" || res.CacheKey == "" {
		t.Fatalf("result = %+v", res)
	}
	if res.EstimatedSeconds <= 0 {
		t.Error("estimate should be positive")
	}
	if env.vid.submits != 1 {
		t.Errorf("submits = %d", env.vid.submits)
	}
	if len(env.vid.lastReq.ReferenceImage) == 0 {
		t.Error("keyframe should condition the submission when sizes match")
	}

	job, err := env.jobs.Get(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("job record: %v", err)
	}
	if job.OwnerID != "u1" || job.Status != domain.JobStatusPending || job.ReservationKey == "" {
		t.Errorf("job = %+v", job)
	}
	if job.Settled() {
		t.Error("fresh job must be unsettled")
	}
}

func TestSubmitCacheHitSkipsProvidersAndQuota(t *testing.T) {
	env := newTestEnv(t, nil)
	req := baseRequest()
	fp := Fingerprint(req, "720x1280")
	if _, err := env.cache.Put(context.Background(), fp, []byte("cached"), ArtifactMeta{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	res := env.submit(t, req)
	if !res.Cached || res.Status != domain.JobStatusCompleted || res.CacheKey != fp {
		t.Fatalf("result = %+v", res)
	}
	if res.ArtifactKey != fp+".mp4" {
		t.Errorf("artifact key = %q", res.ArtifactKey)
	}
	if env.vid.submits != 0 || env.img.calls != 0 {
		t.Errorf("providers called on cache hit: video=%d image=%d", env.vid.submits, env.img.calls)
	}
}

func TestSubmitKeyframeFailureContinues(t *testing.T) {
	env := newTestEnv(t, nil)
	env.img.err = errors.New("image provider down")

	res := env.submit(t, baseRequest())
	if res.Status != domain.JobStatusPending {
		t.Fatalf("status = %s", res.Status)
	}
	if len(env.vid.lastReq.ReferenceImage) != 0 {
		t.Error("failed keyframe must degrade to no reference image")
	}
}

func TestSubmitAutoModeSkipsUnsupportedSize(t *testing.T) {
	env := newTestEnv(t, nil)
	env.img.sizes = []string{"1024x1024"}

	env.submit(t, baseRequest())
	if env.img.calls != 0 {
		t.Error("auto mode must not call the image provider on size mismatch")
	}
}

func TestSubmitKeyframeModeOff(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.KeyframeMode = "off" })
	env.submit(t, baseRequest())
	if env.img.calls != 0 {
		t.Error("off mode must not call the image provider")
	}
}

func TestSubmitProviderFailureRefundsReservation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.vid.submitErr = errors.New("overloaded")

	_, err := env.svc.Submit(context.Background(), "u1", testLimits(), baseRequest())
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}

	// The refunded slot is usable again: with limit 1 a fresh submission
	// succeeds.
	env.vid.submitErr = nil
	limits := testLimits()
	limits.MaxPerDay = 1
	if _, err := env.svc.Submit(context.Background(), "u1", limits, baseRequest()); err != nil {
		t.Fatalf("submit after refund: %v", err)
	}
}

func TestSubmitQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, nil)
	limits := testLimits()
	limits.MaxPerDay = 1

	if _, err := env.svc.Submit(context.Background(), "u1", limits, baseRequest()); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	other := baseRequest()
	other.Question = "A different question entirely"
	_, err := env.svc.Submit(context.Background(), "u1", limits, other)
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaError", err)
	}
	if qe.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", qe.Remaining)
	}
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Error("QuotaError should unwrap to ErrQuotaExceeded")
	}
}

func TestSubmitWithoutVideoProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	env.svc.video = nil
	_, err := env.svc.Submit(context.Background(), "u1", testLimits(), baseRequest())
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestPollLifecyclePendingToCompleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.vid.statuses = []video.JobStatus{
		{State: "in_progress"},
		{State: "completed", ResultRef: "res-1"},
	}

	res := env.submit(t, baseRequest())

	poll, err := env.svc.Poll(ctx, "u1", res.JobID)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if poll.Status != domain.JobStatusPending {
		t.Fatalf("poll 1 status = %s", poll.Status)
	}

	poll, err = env.svc.Poll(ctx, "u1", res.JobID)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if poll.Status != domain.JobStatusCompleted {
		t.Fatalf("poll 2 status = %s", poll.Status)
	}
	if poll.ArtifactKey != res.CacheKey+".mp4" || poll.ContentType != "video/mp4" {
		t.Errorf("poll 2 = %+v", poll)
	}
	if env.vid.fetches != 1 {
		t.Errorf("fetches = %d, want 1", env.vid.fetches)
	}

	job, _ := env.jobs.Get(ctx, res.JobID)
	if !job.UsageFinalized || job.UsageRefunded {
		t.Errorf("flags = finalized %v refunded %v", job.UsageFinalized, job.UsageRefunded)
	}

	// A third poll serves the terminal record without another provider call.
	before := env.vid.statusCalls
	if _, err := env.svc.Poll(ctx, "u1", res.JobID); err != nil {
		t.Fatalf("poll 3: %v", err)
	}
	if env.vid.statusCalls != before {
		t.Error("terminal job should not trigger a status check")
	}
}

func TestPollCompletedUsesCachedArtifactWithoutFetch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.vid.statuses = []video.JobStatus{{State: "completed", ResultRef: "res-1"}}

	res := env.submit(t, baseRequest())
	// A concurrent poller or background settlement already cached the bytes.
	if _, err := env.cache.Put(ctx, res.CacheKey, []byte("already-there"), ArtifactMeta{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	poll, err := env.svc.Poll(ctx, "u1", res.JobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if poll.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s", poll.Status)
	}
	if env.vid.fetches != 0 {
		t.Errorf("fetches = %d, want 0", env.vid.fetches)
	}
}

func TestPollFailedRefundsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.vid.statuses = []video.JobStatus{{State: "failed"}}

	res := env.submit(t, baseRequest())
	job, _ := env.jobs.Get(ctx, res.JobID)
	key := job.ReservationKey

	poll, err := env.svc.Poll(ctx, "u1", res.JobID)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if poll.Status != domain.JobStatusFailed || poll.ArtifactKey != "" {
		t.Fatalf("poll 1 = %+v", poll)
	}
	if env.kvs.decrCount(key) != 1 {
		t.Fatalf("decrs = %d, want 1", env.kvs.decrCount(key))
	}

	poll, err = env.svc.Poll(ctx, "u1", res.JobID)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if poll.Status != domain.JobStatusFailed {
		t.Fatalf("poll 2 status = %s", poll.Status)
	}
	if env.kvs.decrCount(key) != 1 {
		t.Errorf("second poll must not refund again, decrs = %d", env.kvs.decrCount(key))
	}

	job, _ = env.jobs.Get(ctx, res.JobID)
	if !job.UsageRefunded || job.UsageFinalized {
		t.Errorf("flags = finalized %v refunded %v", job.UsageFinalized, job.UsageRefunded)
	}
}

func TestPollAuthorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	res := env.submit(t, baseRequest())

	if _, err := env.svc.Poll(ctx, "intruder", res.JobID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign poll err = %v, want ErrForbidden", err)
	}
	if _, err := env.svc.Poll(ctx, "u1", "unknown-job"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown job err = %v, want ErrNotFound", err)
	}
}

func TestPollStatusErrorLeavesJobPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	res := env.submit(t, baseRequest())

	env.vid.statusErr = errors.New("network down")
	if _, err := env.svc.Poll(ctx, "u1", res.JobID); !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}

	job, _ := env.jobs.Get(ctx, res.JobID)
	if job.Status != domain.JobStatusPending || job.Settled() {
		t.Errorf("job = %+v", job)
	}
}

func TestSettleCompletedFinalizes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.vid.statuses = []video.JobStatus{{State: "completed", ResultRef: "res-1"}}

	res := env.submit(t, baseRequest())
	job, _ := env.jobs.Get(ctx, res.JobID)

	env.svc.settle(ctx, settleTask{JobID: job.ID, ProviderJobID: job.ProviderJobID, ReservationKey: job.ReservationKey})

	job, _ = env.jobs.Get(ctx, res.JobID)
	if !job.UsageFinalized || job.UsageRefunded {
		t.Errorf("flags = finalized %v refunded %v", job.UsageFinalized, job.UsageRefunded)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s", job.Status)
	}
	if env.kvs.decrCount(job.ReservationKey) != 0 {
		t.Error("finalize must not touch the counter")
	}
}

func TestSettleAfterPollIsNoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.vid.statuses = []video.JobStatus{{State: "completed", ResultRef: "res-1"}}

	res := env.submit(t, baseRequest())
	if _, err := env.svc.Poll(ctx, "u1", res.JobID); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	job, _ := env.jobs.Get(ctx, res.JobID)
	env.svc.settle(ctx, settleTask{JobID: job.ID, ProviderJobID: job.ProviderJobID, ReservationKey: job.ReservationKey})

	after, _ := env.jobs.Get(ctx, res.JobID)
	if !after.UsageFinalized || after.UsageRefunded {
		t.Errorf("flags changed by worker: %+v", after)
	}
	if env.kvs.decrCount(job.ReservationKey) != 0 {
		t.Error("settled job must not be refunded by the worker")
	}
}

func TestSettleFailedRefunds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.vid.statuses = []video.JobStatus{{State: "failed"}}

	res := env.submit(t, baseRequest())
	job, _ := env.jobs.Get(ctx, res.JobID)

	env.svc.settle(ctx, settleTask{JobID: job.ID, ProviderJobID: job.ProviderJobID, ReservationKey: job.ReservationKey})

	job, _ = env.jobs.Get(ctx, res.JobID)
	if !job.UsageRefunded || job.UsageFinalized {
		t.Errorf("flags = finalized %v refunded %v", job.UsageFinalized, job.UsageRefunded)
	}
	if env.kvs.decrCount(job.ReservationKey) != 1 {
		t.Errorf("decrs = %d, want 1", env.kvs.decrCount(job.ReservationKey))
	}
}

func TestSettleExhaustedRetriesSafetyNetRefund(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil) // MaxAttempts 2, zero delays

	res := env.submit(t, baseRequest()) // stub reports "queued" forever
	job, _ := env.jobs.Get(ctx, res.JobID)

	env.svc.settle(ctx, settleTask{JobID: job.ID, ProviderJobID: job.ProviderJobID, ReservationKey: job.ReservationKey})

	if env.vid.statusCalls != 2 {
		t.Errorf("statusCalls = %d, want 2", env.vid.statusCalls)
	}
	job, _ = env.jobs.Get(ctx, res.JobID)
	if !job.UsageRefunded || job.UsageFinalized {
		t.Errorf("flags = finalized %v refunded %v", job.UsageFinalized, job.UsageRefunded)
	}
	// The job itself stays pending; only the reservation is returned.
	if job.Status != domain.JobStatusPending {
		t.Errorf("status = %s", job.Status)
	}
	if env.kvs.decrCount(job.ReservationKey) != 1 {
		t.Errorf("decrs = %d, want 1", env.kvs.decrCount(job.ReservationKey))
	}
}

func TestPollAfterSafetyNetRefundReportsCompletion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil) // MaxAttempts 2, zero delays

	res := env.submit(t, baseRequest()) // stub reports "queued" forever
	job, _ := env.jobs.Get(ctx, res.JobID)
	key := job.ReservationKey

	env.svc.settle(ctx, settleTask{JobID: job.ID, ProviderJobID: job.ProviderJobID, ReservationKey: key})
	if env.kvs.decrCount(key) != 1 {
		t.Fatalf("decrs after settle = %d, want 1", env.kvs.decrCount(key))
	}

	// The provider finishes after the worker has given up.
	env.vid.statuses = []video.JobStatus{{State: "completed", ResultRef: "res-1"}}

	poll, err := env.svc.Poll(ctx, "u1", res.JobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if poll.Status != domain.JobStatusCompleted {
		t.Fatalf("poll status = %s, want completed", poll.Status)
	}
	if poll.ArtifactKey != res.CacheKey+".mp4" || env.vid.fetches != 1 {
		t.Errorf("artifact = %q fetches = %d", poll.ArtifactKey, env.vid.fetches)
	}

	job, _ = env.jobs.Get(ctx, res.JobID)
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("persisted status = %s, want completed", job.Status)
	}
	if job.UsageFinalized || !job.UsageRefunded {
		t.Errorf("late completion must not change settlement: finalized %v refunded %v", job.UsageFinalized, job.UsageRefunded)
	}
	if env.kvs.decrCount(key) != 1 {
		t.Errorf("decrs = %d, want 1", env.kvs.decrCount(key))
	}

	// The job is terminal now; further polls serve the record directly.
	before := env.vid.statusCalls
	if poll, err = env.svc.Poll(ctx, "u1", res.JobID); err != nil || poll.Status != domain.JobStatusCompleted {
		t.Fatalf("repeat poll = %+v, %v", poll, err)
	}
	if env.vid.statusCalls != before {
		t.Error("terminal job should not trigger a status check")
	}
}

func TestPollAfterSafetyNetRefundReportsFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	res := env.submit(t, baseRequest())
	job, _ := env.jobs.Get(ctx, res.JobID)
	key := job.ReservationKey

	env.svc.settle(ctx, settleTask{JobID: job.ID, ProviderJobID: job.ProviderJobID, ReservationKey: key})

	env.vid.statuses = []video.JobStatus{{State: "failed"}}
	poll, err := env.svc.Poll(ctx, "u1", res.JobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if poll.Status != domain.JobStatusFailed {
		t.Fatalf("poll status = %s, want failed", poll.Status)
	}
	if env.kvs.decrCount(key) != 1 {
		t.Errorf("late failure must not refund again, decrs = %d", env.kvs.decrCount(key))
	}
}

func TestSettleExpiredRecordUsesCarriedKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.vid.statuses = []video.JobStatus{{State: "failed"}}

	res := env.submit(t, baseRequest())
	job, _ := env.jobs.Get(ctx, res.JobID)
	key := job.ReservationKey

	// Simulate the record TTL expiring before the worker runs.
	if err := env.kvs.Delete(ctx, "job:"+job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	env.svc.settle(ctx, settleTask{JobID: job.ID, ProviderJobID: job.ProviderJobID, ReservationKey: key})

	if env.kvs.decrCount(key) != 1 {
		t.Errorf("decrs = %d, want 1", env.kvs.decrCount(key))
	}
}

func TestNormalizeProviderState(t *testing.T) {
	cases := map[string]domain.JobStatus{
		"completed":   domain.JobStatusCompleted,
		"SUCCEEDED":   domain.JobStatusCompleted,
		"failed":      domain.JobStatusFailed,
		"error":       domain.JobStatusFailed,
		"cancelled":   domain.JobStatusCancelled,
		"canceled":    domain.JobStatusCancelled,
		"queued":      domain.JobStatusPending,
		"in_progress": domain.JobStatusPending,
		"":            domain.JobStatusPending,
	}
	for in, want := range cases {
		if got := normalizeProviderState(in); got != want {
			t.Errorf("normalizeProviderState(%q) = %s, want %s", in, got, want)
		}
	}
}
