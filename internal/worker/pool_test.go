package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/ratelimit"
	"genqueue/internal/retry"
)

func job(id string, prio domain.Priority, cfg domain.RetryConfig) *domain.RetryableJob {
	req := domain.ContentRequest{
		ID:            "req-" + id,
		UserID:        "u-" + id,
		ProjectID:     "p1",
		Kind:          domain.ContentImage,
		Prompt:        "a lantern",
		Resolution:    "512x512",
		Engine:        "imagen",
		Priority:      prio,
		EstimatedCost: 1,
	}
	jc := domain.JobContext{
		ID:        id,
		Type:      domain.JobTypeSingleGenerate,
		Handler:   "imagen",
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Priority:  prio,
	}
	return domain.NewRetryableJob(jc, domain.SinglePayload{Request: req}, cfg)
}

func retryConfig(delay time.Duration) domain.RetryConfig {
	return domain.RetryConfig{
		MaxRetries:   3,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
		Strategy:     domain.StrategyFixed,
		EnableDLQ:    true,
	}
}

func succeed(_ context.Context, jc domain.JobContext, _ domain.Payload) (domain.Result, error) {
	return domain.Result{Outputs: []domain.Output{{RequestID: "req-" + jc.ID}}}, nil
}

func newPool(workers int, exec retry.Executor, limiter *ratelimit.Limiter) *Pool {
	orch := retry.New(retry.Options{Logger: zerolog.Nop()})
	return New(Config{MaxConcurrentJobs: workers}, Options{
		Orchestrator: orch,
		Executor:     exec,
		Limiter:      limiter,
		Logger:       zerolog.Nop(),
	})
}

func waitAll(t *testing.T, handles ...*Handle) []domain.JobExecutionResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make([]domain.JobExecutionResult, len(handles))
	for i, h := range handles {
		res, err := h.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait(%s): %v", h.Job().Context.ID, err)
		}
		out[i] = res
	}
	return out
}

func TestConcurrencyCeiling(t *testing.T) {
	var cur, peak atomic.Int32
	exec := func(ctx context.Context, jc domain.JobContext, p domain.Payload) (domain.Result, error) {
		n := cur.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return succeed(ctx, jc, p)
	}
	pool := newPool(2, exec, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	var handles []*Handle
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		h, err := pool.Submit(job(id, domain.PriorityNormal, retryConfig(time.Millisecond)))
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		handles = append(handles, h)
	}
	for _, res := range waitAll(t, handles...) {
		if res.State != domain.JobStateSucceeded {
			t.Fatalf("job %s ended %s", res.JobID, res.State)
		}
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
	if s := pool.Stats(); s.Succeeded != 6 || s.Running != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPriorityOrderWithSingleWorker(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	exec := func(ctx context.Context, jc domain.JobContext, p domain.Payload) (domain.Result, error) {
		mu.Lock()
		order = append(order, jc.ID)
		mu.Unlock()
		return succeed(ctx, jc, p)
	}
	pool := newPool(1, exec, nil)
	n, _ := pool.Submit(job("normal", domain.PriorityNormal, retryConfig(time.Millisecond)))
	u, _ := pool.Submit(job("urgent", domain.PriorityUrgent, retryConfig(time.Millisecond)))
	l, _ := pool.Submit(job("low", domain.PriorityLow, retryConfig(time.Millisecond)))
	pool.Start(context.Background())
	defer pool.Stop()
	waitAll(t, n, u, l)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"urgent", "normal", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBackoffDoesNotHoldWorker(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
		slowN atomic.Int32
	)
	exec := func(ctx context.Context, jc domain.JobContext, p domain.Payload) (domain.Result, error) {
		mu.Lock()
		order = append(order, jc.ID)
		mu.Unlock()
		if jc.ID == "slow" && slowN.Add(1) == 1 {
			return domain.Result{}, &domain.BackendError{Status: 503, Message: "busy"}
		}
		return succeed(ctx, jc, p)
	}
	pool := newPool(1, exec, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	slow, _ := pool.Submit(job("slow", domain.PriorityUrgent, retryConfig(200*time.Millisecond)))
	// Let the first attempt fail before the second job arrives.
	time.Sleep(50 * time.Millisecond)
	fast, _ := pool.Submit(job("fast", domain.PriorityLow, retryConfig(time.Millisecond)))

	res := waitAll(t, slow, fast)
	if res[0].Attempts != 2 || res[0].State != domain.JobStateSucceeded {
		t.Fatalf("slow result = %+v", res[0])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[1] != "fast" {
		t.Fatalf("order = %v, want fast to run during slow's backoff", order)
	}
	if s := pool.Stats(); s.Retried != 1 {
		t.Fatalf("retried = %d, want 1", s.Retried)
	}
}

func TestResubmitIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	exec := func(ctx context.Context, jc domain.JobContext, p domain.Payload) (domain.Result, error) {
		calls.Add(1)
		return succeed(ctx, jc, p)
	}
	pool := newPool(1, exec, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	j := job("once", domain.PriorityNormal, retryConfig(time.Millisecond))
	h1, _ := pool.Submit(j)
	waitAll(t, h1)
	h2, err := pool.Submit(j)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if h1 != h2 {
		t.Fatal("resubmit returned a new handle")
	}
	if calls.Load() != 1 {
		t.Fatalf("executor called %d times", calls.Load())
	}
}

func TestRateLimitedJobIsRequeued(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{PerActorRequests: 1, Window: 100 * time.Millisecond, PerScopeRequests: 1000, BucketCapacity: 100}, nil)
	pool := newPool(1, succeed, limiter)
	pool.Start(context.Background())
	defer pool.Stop()

	first := job("first", domain.PriorityNormal, retryConfig(time.Millisecond))
	second := job("second", domain.PriorityNormal, retryConfig(time.Millisecond))
	second.Context.UserID = first.Context.UserID

	h1, _ := pool.Submit(first)
	h2, _ := pool.Submit(second)
	for _, res := range waitAll(t, h1, h2) {
		if res.State != domain.JobStateSucceeded || res.Attempts != 1 {
			t.Fatalf("result = %+v", res)
		}
	}
	if s := pool.Stats(); s.RateLimited < 1 {
		t.Fatalf("rate limited = %d, want >= 1", s.RateLimited)
	}
}

func TestSubmitRejectsInvalidJob(t *testing.T) {
	pool := newPool(1, succeed, nil)
	bad := job("bad", domain.PriorityNormal, retryConfig(time.Millisecond))
	bad.Context.Handler = ""
	if _, err := pool.Submit(bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	ptr := job("ptr", domain.PriorityNormal, retryConfig(time.Millisecond))
	single := ptr.Payload.(domain.SinglePayload)
	ptr.Payload = &single
	if _, err := pool.Submit(ptr); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("pointer payload: err = %v, want invalid payload", err)
	}
	pool.Stop()
	if _, err := pool.Submit(job("late", domain.PriorityNormal, retryConfig(time.Millisecond))); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
