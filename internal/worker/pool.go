// Package worker runs jobs on a fixed number of goroutines pulling from the
// priority scheduler.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/ratelimit"
	"genqueue/internal/retry"
	"genqueue/internal/scheduler"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker: pool stopped")

// Config sizes the pool.
type Config struct {
	MaxConcurrentJobs int
	Budget            scheduler.Budget
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrentJobs: 4, Budget: scheduler.DefaultBudget()}
}

// Handle tracks one submitted job until it is terminal.
type Handle struct {
	job  *domain.RetryableJob
	done chan struct{}
	once sync.Once
	res  domain.JobExecutionResult
}

func newHandle(job *domain.RetryableJob) *Handle {
	return &Handle{job: job, done: make(chan struct{})}
}

func (h *Handle) resolve(res domain.JobExecutionResult) {
	h.once.Do(func() {
		h.res = res
		close(h.done)
	})
}

// Job returns the tracked job.
func (h *Handle) Job() *domain.RetryableJob { return h.job }

// Done is closed once the job is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (domain.JobExecutionResult, error) {
	select {
	case <-h.done:
		return h.res, nil
	case <-ctx.Done():
		return domain.JobExecutionResult{}, ctx.Err()
	}
}

// Stats counts pool activity.
type Stats struct {
	Workers      int     `json:"workers"`
	Queued       int     `json:"queued"`
	Running      int64   `json:"running"`
	Succeeded    int64   `json:"succeeded"`
	DeadLettered int64   `json:"dead_lettered"`
	Retried      int64   `json:"retried"`
	RateLimited  int64   `json:"rate_limited"`
	Committed    float64 `json:"committed_cost"`
}

// Pool is safe for concurrent use.
type Pool struct {
	cfg     Config
	orch    *retry.Orchestrator
	exec    retry.Executor
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
	queue   *scheduler.Queue[*Handle]
	wake    chan struct{}

	mu      sync.Mutex
	handles map[string]*Handle
	timers  map[*time.Timer]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup

	running      atomic.Int64
	succeeded    atomic.Int64
	deadLettered atomic.Int64
	retried      atomic.Int64
	rateLimited  atomic.Int64
}

// Options wires collaborators into a Pool. Limiter may be nil.
type Options struct {
	Orchestrator *retry.Orchestrator
	Executor     retry.Executor
	Limiter      *ratelimit.Limiter
	Logger       zerolog.Logger
}

// New creates a stopped pool.
func New(cfg Config, opts Options) *Pool {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultConfig().MaxConcurrentJobs
	}
	return &Pool{
		cfg:     cfg,
		orch:    opts.Orchestrator,
		exec:    opts.Executor,
		limiter: opts.Limiter,
		logger:  opts.Logger,
		queue:   scheduler.New[*Handle](cfg.Budget),
		wake:    make(chan struct{}, 1),
		handles: make(map[string]*Handle),
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Start launches the workers. Attempts already in flight when ctx ends run to
// completion; queued work stays queued.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.MaxConcurrentJobs; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info().Int("workers", p.cfg.MaxConcurrentJobs).Msg("worker: pool started")
}

// Stop cancels pending retry timers and waits for running attempts.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker: pool stopped")
}

// Submit queues job and returns its handle. Submitting a job id that was
// already submitted returns the existing handle and queues nothing.
func (p *Pool) Submit(job *domain.RetryableJob) (*Handle, error) {
	if err := retry.ValidateJob(job); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrStopped
	}
	if h, ok := p.handles[job.Context.ID]; ok {
		p.mu.Unlock()
		return h, nil
	}
	h := newHandle(job)
	p.handles[job.Context.ID] = h
	p.mu.Unlock()

	if res, ok := job.Result(); ok {
		h.resolve(res)
		return h, nil
	}
	p.enqueue(h)
	return h, nil
}

// Handle returns the handle of a submitted job.
func (p *Pool) Handle(jobID string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[jobID]
	return h, ok
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:      p.cfg.MaxConcurrentJobs,
		Queued:       p.queue.Len(),
		Running:      p.running.Load(),
		Succeeded:    p.succeeded.Load(),
		DeadLettered: p.deadLettered.Load(),
		Retried:      p.retried.Load(),
		RateLimited:  p.rateLimited.Load(),
		Committed:    p.queue.Committed(),
	}
}

func (p *Pool) enqueue(h *Handle) {
	p.queue.Enqueue(h, h.job.Context.Priority, domain.PayloadCost(h.job.Payload))
	p.signal()
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// later runs fn after d without holding a worker.
func (p *Pool) later(d time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		delete(p.timers, t)
		p.mu.Unlock()
		fn()
	})
	p.timers[t] = struct{}{}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		h, ok := p.next()
		if !ok {
			return
		}
		p.process(id, h)
	}
}

// next blocks until an eligible item is dequeued or the pool stops.
func (p *Pool) next() (*Handle, bool) {
	for {
		if p.ctx.Err() != nil {
			return nil, false
		}
		if h, ok := p.queue.Dequeue(); ok {
			if p.queue.Len() > 0 {
				p.signal()
			}
			return h, true
		}
		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return nil, false
		}
	}
}

func (p *Pool) process(worker int, h *Handle) {
	job := h.job
	jc := job.Context
	cost := domain.PayloadCost(job.Payload)
	defer func() {
		p.queue.Release(cost)
		p.signal()
	}()

	if p.limiter != nil && !p.limiter.CanProceed(jc.UserID, jc.ProjectID) {
		delay := p.limiter.Delay(jc.UserID, jc.ProjectID)
		p.rateLimited.Add(1)
		p.logger.Debug().
			Str("job_id", jc.ID).
			Str("user_id", jc.UserID).
			Str("project_id", jc.ProjectID).
			Dur("delay", delay).
			Msg("worker: rate limited, re-queued")
		p.later(delay, func() { p.enqueue(h) })
		return
	}

	p.logger.Debug().Int("worker", worker).Str("job_id", jc.ID).Str("job_type", string(jc.Type)).Msg("worker: picked job")
	p.running.Add(1)
	step := p.orch.Attempt(context.WithoutCancel(p.ctx), job, p.exec)
	p.running.Add(-1)

	switch step.Outcome {
	case retry.OutcomeRetry:
		p.retried.Add(1)
		p.later(step.Delay, func() {
			if err := p.orch.Requeue(p.ctx, job); err != nil {
				p.logger.Error().Err(err).Str("job_id", jc.ID).Msg("worker: requeue failed")
				return
			}
			p.enqueue(h)
		})
	case retry.OutcomeSucceeded:
		p.succeeded.Add(1)
		h.resolve(step.Result)
	case retry.OutcomeFailed:
		p.deadLettered.Add(1)
		h.resolve(step.Result)
	case retry.OutcomeNoop:
		if res, ok := job.Result(); ok {
			h.resolve(res)
		}
	}
}
