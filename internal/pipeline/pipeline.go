// Package pipeline connects the fingerprint cache, batch assembler and worker
// pool into one intake path.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genqueue/internal/batching"
	"genqueue/internal/domain"
	"genqueue/internal/fingerprint"
	"genqueue/internal/worker"
)

// RequestDoneFunc is called once per request whose job reached a terminal
// state. out is zero unless the job succeeded.
type RequestDoneFunc func(req domain.ContentRequest, out domain.Output, res domain.JobExecutionResult)

// Submission reports what happened to a submitted request.
type Submission struct {
	RequestID string        `json:"request_id"`
	Cached    bool          `json:"cached"`
	Output    domain.Output `json:"output,omitempty"`
}

// Options wires a Pipeline.
type Options struct {
	Cache     *fingerprint.Cache
	Assembler *batching.Assembler
	Pool      *worker.Pool
	Retry     domain.RetryConfig
	Logger    zerolog.Logger
	Now       func() time.Time
	OnDone    RequestDoneFunc
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	cache     *fingerprint.Cache
	assembler *batching.Assembler
	pool      *worker.Pool
	retry     domain.RetryConfig
	logger    zerolog.Logger
	now       func() time.Time
	onDone    RequestDoneFunc

	wg sync.WaitGroup
}

// New creates a pipeline. Cache may be nil.
func New(opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		cache:     opts.Cache,
		assembler: opts.Assembler,
		pool:      opts.Pool,
		retry:     opts.Retry,
		logger:    opts.Logger,
		now:       opts.Now,
		onDone:    opts.OnDone,
	}
}

// Submit answers req from the cache when possible and otherwise queues it
// for the next Flush. Malformed requests are rejected here.
func (p *Pipeline) Submit(ctx context.Context, req domain.ContentRequest) (Submission, error) {
	if err := req.Validate(); err != nil {
		return Submission{}, err
	}
	if p.cache != nil {
		if out, ok := p.cache.Get(ctx, req); ok {
			p.logger.Debug().Str("request_id", req.ID).Msg("pipeline: cache hit")
			return Submission{RequestID: req.ID, Cached: true, Output: out}, nil
		}
	}
	if err := p.assembler.AddRequest(req); err != nil {
		return Submission{}, err
	}
	return Submission{RequestID: req.ID}, nil
}

// Pending reports how many requests wait for the next Flush.
func (p *Pipeline) Pending() int { return p.assembler.Pending() }

// Flush seals the queued requests into batches and hands one job per batch
// to the pool.
func (p *Pipeline) Flush(ctx context.Context) ([]*worker.Handle, error) {
	batches := p.assembler.BuildOptimalBatches()
	handles := make([]*worker.Handle, 0, len(batches))
	for _, b := range batches {
		job := p.jobFor(b)
		if b.Size() > 1 {
			cb := batching.CostBenefitAnalysis(b)
			p.logger.Debug().
				Str("job_id", job.Context.ID).
				Int("size", b.Size()).
				Float64("similarity", b.Similarity).
				Float64("benefit_ratio", cb.BenefitRatio).
				Str("recommendation", string(cb.Recommendation)).
				Msg("pipeline: batch sealed")
		}
		h, err := p.pool.Submit(job)
		if err != nil {
			return handles, fmt.Errorf("pipeline: submit batch %s: %w", b.ID, err)
		}
		handles = append(handles, h)
		p.wg.Add(1)
		go p.settle(ctx, h)
	}
	return handles, nil
}

// Wait blocks until every flushed job has settled.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) jobFor(b domain.Batch) *domain.RetryableJob {
	first := b.Requests[0]
	jc := domain.JobContext{
		ID:        uuid.NewString(),
		Type:      domain.JobTypeBatchGenerate,
		Handler:   b.Engine,
		UserID:    first.UserID,
		ProjectID: first.ProjectID,
		Priority:  b.Priority,
		CreatedAt: p.now(),
	}
	var payload domain.Payload = domain.BatchPayload{Batch: b}
	if b.Size() == 1 {
		jc.Type = domain.JobTypeSingleGenerate
		payload = domain.SinglePayload{Request: first}
	}
	return domain.NewRetryableJob(jc, payload, p.retry)
}

// settle caches outputs of a succeeded job and reports every request.
func (p *Pipeline) settle(ctx context.Context, h *worker.Handle) {
	defer p.wg.Done()
	select {
	case <-h.Done():
	case <-ctx.Done():
		return
	}
	res, _ := h.Wait(ctx)
	job := h.Job()
	for _, req := range domain.Requests(job.Payload) {
		var out domain.Output
		if res.State == domain.JobStateSucceeded && res.Value != nil {
			if o, ok := res.Value.Output(req.ID); ok {
				out = o
				if p.cache != nil {
					p.cache.Set(context.WithoutCancel(ctx), req, o)
				}
			}
		}
		if p.onDone != nil {
			p.onDone(req, out, res)
		}
	}
}
