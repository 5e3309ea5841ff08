// Package retry drives a job through attempts, backoff and dead-lettering.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genqueue/internal/breaker"
	"genqueue/internal/domain"
	"genqueue/internal/failure"
)

// Executor is the generation backend call for one attempt.
type Executor func(ctx context.Context, jc domain.JobContext, p domain.Payload) (domain.Result, error)

// ProgressFunc receives attempt-level progress.
type ProgressFunc func(jobID string, percent int, message string)

// CompletionFunc receives the terminal result of a job.
type CompletionFunc func(jobID string, res domain.JobExecutionResult)

// Outcome is what a single Attempt decided.
type Outcome int

const (
	// OutcomeNoop means the job was terminal or already running; nothing ran.
	OutcomeNoop Outcome = iota
	OutcomeSucceeded
	// OutcomeRetry means the job is retry_scheduled and must be re-queued
	// after Step.Delay.
	OutcomeRetry
	// OutcomeFailed covers dead_letter and failed terminal states.
	OutcomeFailed
)

// Step is the result of one Attempt call.
type Step struct {
	Outcome Outcome
	Delay   time.Duration
	Result  domain.JobExecutionResult
}

// Options wires collaborators into an Orchestrator. A nil Breakers registry
// admits every attempt; a nil DeadLetters store only logs.
type Options struct {
	Breakers    *breaker.Registry
	DeadLetters domain.DeadLetterRepository
	Sink        domain.JobStateSink
	Logger      zerolog.Logger
	Now         func() time.Time
	Rand        func() float64
}

// Orchestrator owns the retry policy. It is safe for concurrent use; all
// per-job state lives on the job itself.
type Orchestrator struct {
	breakers *breaker.Registry
	dlq      domain.DeadLetterRepository
	sink     domain.JobStateSink
	logger   zerolog.Logger
	now      func() time.Time
	rnd      func() float64

	cbMu       sync.RWMutex
	progress   []ProgressFunc
	completion []CompletionFunc
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		breakers: opts.Breakers,
		dlq:      opts.DeadLetters,
		sink:     opts.Sink,
		logger:   opts.Logger,
		now:      opts.Now,
		rnd:      opts.Rand,
	}
}

// OnProgress registers a progress callback.
func (o *Orchestrator) OnProgress(fn ProgressFunc) {
	o.cbMu.Lock()
	o.progress = append(o.progress, fn)
	o.cbMu.Unlock()
}

// OnCompletion registers a completion callback.
func (o *Orchestrator) OnCompletion(fn CompletionFunc) {
	o.cbMu.Lock()
	o.completion = append(o.completion, fn)
	o.cbMu.Unlock()
}

// ValidateJob rejects jobs that must never enter the retry machinery.
func ValidateJob(job *domain.RetryableJob) error {
	if job == nil {
		return &domain.ValidationError{Field: "job", Reason: "is required"}
	}
	if job.Context.ID == "" {
		return &domain.ValidationError{Field: "job.id", Reason: "is required"}
	}
	if job.Context.Type == "" {
		return &domain.ValidationError{Field: "job.type", Reason: "is required"}
	}
	if job.Context.Handler == "" {
		return &domain.ValidationError{Field: "job.handler", Reason: "is required"}
	}
	switch job.Payload.(type) {
	case domain.BatchPayload, domain.SinglePayload:
	case nil:
		return &domain.ValidationError{Field: "job.payload", Reason: "is required"}
	default:
		return fmt.Errorf("%w: %T", domain.ErrInvalidPayload, job.Payload)
	}
	if err := job.Config.Validate(); err != nil {
		return err
	}
	for _, r := range domain.Requests(job.Payload) {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("request %s: %w", r.ID, err)
		}
	}
	return nil
}

// Submit runs job to a terminal state, waiting out backoff delays on the
// caller's goroutine. Only boundary validation produces an error; execution
// failures are reported through the result.
func (o *Orchestrator) Submit(ctx context.Context, job *domain.RetryableJob, exec Executor) (domain.JobExecutionResult, error) {
	if err := ValidateJob(job); err != nil {
		return domain.JobExecutionResult{}, err
	}
	for {
		step := o.Attempt(ctx, job, exec)
		switch step.Outcome {
		case OutcomeRetry:
			if err := o.wait(ctx, step.Delay); err != nil {
				res := o.deadLetter(context.WithoutCancel(ctx), job, failure.Classify(err), "cancelled while waiting to retry: "+err.Error())
				return res, nil
			}
			if err := o.Requeue(ctx, job); err != nil {
				return domain.JobExecutionResult{}, err
			}
		case OutcomeNoop:
			if res, ok := job.Result(); ok {
				return res, nil
			}
			return domain.JobExecutionResult{}, fmt.Errorf("retry: job %s is already running", job.Context.ID)
		default:
			return step.Result, nil
		}
	}
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Requeue moves a retry_scheduled job back to queued once its delay has
// elapsed.
func (o *Orchestrator) Requeue(ctx context.Context, job *domain.RetryableJob) error {
	if err := job.Transition(domain.JobStateQueued); err != nil {
		return err
	}
	o.emit(ctx, job, domain.JobStateQueued, "")
	return nil
}

// Attempt runs at most one attempt of job. It never sleeps: a retriable
// failure leaves the job retry_scheduled and reports the delay so the caller
// can re-queue it.
func (o *Orchestrator) Attempt(ctx context.Context, job *domain.RetryableJob, exec Executor) Step {
	if res, ok := job.Result(); ok {
		return Step{Outcome: OutcomeNoop, Result: res}
	}
	if job.State() == domain.JobStateRetryScheduled {
		if err := o.Requeue(ctx, job); err != nil {
			return Step{Outcome: OutcomeNoop}
		}
	}

	cfg := job.Config
	jc := job.Context
	now := o.now()
	if started := job.StartedAt(); cfg.TotalTimeout > 0 && !started.IsZero() && now.Sub(started) >= cfg.TotalTimeout {
		res := o.deadLetter(ctx, job, domain.FailureTimeout, fmt.Sprintf("total timeout of %s exceeded after %d attempts", cfg.TotalTimeout, job.Attempts()))
		return Step{Outcome: OutcomeFailed, Result: res}
	}

	n, err := job.BeginAttempt(now)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", jc.ID).Msg("retry: attempt not started")
		return Step{Outcome: OutcomeNoop}
	}
	o.emit(ctx, job, domain.JobStateRunning, "")
	o.notifyProgress(jc.ID, progressPercent(n, cfg.MaxRetries), fmt.Sprintf("attempt %d started", n))

	rec := domain.AttemptRecord{Number: n, StartedAt: now}
	var (
		value   domain.Result
		execErr error
	)
	var permit breaker.Permit
	if o.breakers != nil {
		permit, err = o.breakers.Allow(jc.Handler, jc.Type)
	}
	if err != nil {
		rec.ShortCircuited = true
		execErr = err
	} else {
		execCtx := ctx
		if cfg.TotalTimeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithDeadline(ctx, job.StartedAt().Add(cfg.TotalTimeout))
			defer cancel()
		}
		value, execErr = invoke(execCtx, exec, jc, job.Payload)
		permit.Done(execErr == nil)
	}
	rec.FinishedAt = o.now()

	if execErr == nil {
		job.RecordAttempt(rec)
		res := domain.JobExecutionResult{JobID: jc.ID, Value: &value, Elapsed: rec.FinishedAt.Sub(job.StartedAt())}
		if err := job.Finish(domain.JobStateSucceeded, res); err != nil {
			o.logger.Error().Err(err).Str("job_id", jc.ID).Msg("retry: finish succeeded job")
		}
		res, _ = job.Result()
		o.emit(ctx, job, domain.JobStateSucceeded, "")
		o.logger.Info().Str("job_id", jc.ID).Str("job_type", string(jc.Type)).Int("attempt", n).Msg("retry: job succeeded")
		o.notifyProgress(jc.ID, 100, "succeeded")
		o.notifyCompletion(jc.ID, res)
		return Step{Outcome: OutcomeSucceeded, Result: res}
	}

	ft := failure.Classify(execErr)
	rec.Failure = ft
	rec.Error = execErr.Error()
	elapsed := rec.FinishedAt.Sub(job.StartedAt())
	withinTimeout := cfg.TotalTimeout == 0 || elapsed < cfg.TotalTimeout

	if failure.IsRetriable(ft) && n <= cfg.MaxRetries && withinTimeout {
		delay := Jittered(cfg, n-1, o.rnd)
		rec.Delay = delay
		job.RecordAttempt(rec)
		if err := job.Transition(domain.JobStateRetryScheduled); err != nil {
			o.logger.Error().Err(err).Str("job_id", jc.ID).Msg("retry: schedule retry")
		}
		o.emit(ctx, job, domain.JobStateRetryScheduled, rec.Error)
		o.logger.Warn().
			Err(execErr).
			Str("job_id", jc.ID).
			Str("job_type", string(jc.Type)).
			Int("attempt", n).
			Str("failure", string(ft)).
			Dur("delay", delay).
			Bool("short_circuited", rec.ShortCircuited).
			Msg("retry: attempt failed, retry scheduled")
		o.notifyProgress(jc.ID, progressPercent(n, cfg.MaxRetries), fmt.Sprintf("attempt %d failed (%s), retrying in %s", n, ft, delay))
		return Step{Outcome: OutcomeRetry, Delay: delay}
	}

	job.RecordAttempt(rec)
	var reason string
	switch {
	case !withinTimeout:
		ft = domain.FailureTimeout
		reason = fmt.Sprintf("total timeout of %s exceeded after %d attempts: %v", cfg.TotalTimeout, n, execErr)
	case !failure.IsRetriable(ft):
		reason = fmt.Sprintf("non-retriable %s failure: %v", ft, execErr)
	default:
		reason = fmt.Sprintf("retries exhausted after %d attempts: %v", n, execErr)
	}
	res := o.deadLetter(ctx, job, ft, reason)
	return Step{Outcome: OutcomeFailed, Result: res}
}

// deadLetter moves job to its failure terminal state and records the entry
// when the dead-letter queue is enabled.
func (o *Orchestrator) deadLetter(ctx context.Context, job *domain.RetryableJob, ft domain.FailureType, reason string) domain.JobExecutionResult {
	jc := job.Context
	now := o.now()
	terminal := domain.JobStateDeadLetter
	if !job.Config.EnableDLQ {
		terminal = domain.JobStateFailed
	}
	var elapsed time.Duration
	if started := job.StartedAt(); !started.IsZero() {
		elapsed = now.Sub(started)
	}
	if err := job.Finish(terminal, domain.JobExecutionResult{JobID: jc.ID, Failure: ft, Reason: reason, Elapsed: elapsed}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jc.ID).Msg("retry: finish failed job")
	}
	res, _ := job.Result()

	if terminal == domain.JobStateDeadLetter && o.dlq != nil {
		entry := domain.DeadLetterEntry{
			ID:        uuid.NewString(),
			Job:       jc,
			Payload:   job.Payload,
			Failure:   ft,
			Reason:    reason,
			Attempts:  res.Attempts,
			History:   res.History,
			CreatedAt: now,
		}
		if err := o.dlq.Append(ctx, entry); err != nil {
			o.logger.Error().Err(err).Str("job_id", jc.ID).Msg("retry: dead-letter append failed")
		}
	}
	o.emit(ctx, job, terminal, reason)
	o.logger.Error().
		Str("job_id", jc.ID).
		Str("job_type", string(jc.Type)).
		Int("attempts", res.Attempts).
		Str("failure", string(ft)).
		Str("reason", reason).
		Msg("retry: job dead-lettered")
	o.notifyProgress(jc.ID, 100, string(terminal))
	o.notifyCompletion(jc.ID, res)
	return res
}

func invoke(ctx context.Context, exec Executor, jc domain.JobContext, p domain.Payload) (res domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	if exec == nil {
		return domain.Result{}, errors.New("retry: nil executor")
	}
	return exec(ctx, jc, p)
}

func (o *Orchestrator) emit(ctx context.Context, job *domain.RetryableJob, status domain.JobState, msg string) {
	if o.sink == nil {
		return
	}
	retries := job.Attempts() - 1
	if retries < 0 {
		retries = 0
	}
	t := domain.JobTransition{
		JobID:        job.Context.ID,
		JobType:      job.Context.Type,
		UserID:       job.Context.UserID,
		Status:       status,
		RetryCount:   retries,
		ErrorMessage: msg,
		At:           o.now(),
	}
	if err := o.sink.RecordTransition(ctx, t); err != nil {
		o.logger.Warn().Err(err).Str("job_id", t.JobID).Str("status", string(status)).Msg("retry: record transition failed")
	}
}

func (o *Orchestrator) notifyProgress(jobID string, percent int, msg string) {
	o.cbMu.RLock()
	defer o.cbMu.RUnlock()
	for _, fn := range o.progress {
		fn(jobID, percent, msg)
	}
}

func (o *Orchestrator) notifyCompletion(jobID string, res domain.JobExecutionResult) {
	o.cbMu.RLock()
	defer o.cbMu.RUnlock()
	for _, fn := range o.completion {
		fn(jobID, res)
	}
}

func progressPercent(attempt, maxRetries int) int {
	total := maxRetries + 1
	if attempt > total {
		attempt = total
	}
	return (attempt - 1) * 100 / total
}
