package main

import (
	"context"
	"errors"
	"time"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
	"genqueue/internal/pipeline"
)

// staleClaimAge is how long a RUNNING request may go untouched before a
// starting worker puts it back in the queue.
const staleClaimAge = 15 * time.Minute

type requestQueue interface {
	domain.RequestRepository
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// intake moves queued requests from the durable store into the pipeline and
// flushes the pipeline on a fixed cadence.
type intake struct {
	requests requestQueue
	pipeline *pipeline.Pipeline
	logger   infra.Logger

	limit int
	poll  time.Duration
	flush time.Duration
}

func (in *intake) Run(ctx context.Context) error {
	if n, err := in.requests.RequeueStale(ctx, staleClaimAge); err != nil {
		in.logger.Warn().Err(err).Msg("worker: requeue stale requests failed")
	} else if n > 0 {
		in.logger.Info().Int64("count", n).Msg("worker: requeued stale requests")
	}

	pollTicker := time.NewTicker(in.poll)
	defer pollTicker.Stop()
	flushTicker := time.NewTicker(in.flush)
	defer flushTicker.Stop()

	in.logger.Info().Dur("poll", in.poll).Dur("flush", in.flush).Msg("worker: intake started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTicker.C:
			in.claim(ctx)
		case <-flushTicker.C:
			in.flushPending(ctx)
		}
	}
}

// claim pulls one page of requests. Cache hits and malformed requests are
// settled immediately; the rest wait for the next flush.
func (in *intake) claim(ctx context.Context) int {
	reqs, err := in.requests.ClaimQueued(ctx, in.limit)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			in.logger.Error().Err(err).Msg("worker: failed to claim requests")
		}
		return 0
	}
	for _, req := range reqs {
		sub, err := in.pipeline.Submit(ctx, req)
		switch {
		case err != nil:
			in.logger.Warn().Err(err).Str("request_id", req.ID).Msg("worker: request rejected")
			if mErr := in.requests.MarkFailed(ctx, req.ID, err.Error()); mErr != nil {
				in.logger.Error().Err(mErr).Str("request_id", req.ID).Msg("worker: update status failed")
			}
		case sub.Cached:
			if mErr := in.requests.MarkCompleted(ctx, req.ID, sub.Output); mErr != nil {
				in.logger.Error().Err(mErr).Str("request_id", req.ID).Msg("worker: update status failed")
			}
		}
	}
	if len(reqs) > 0 {
		in.logger.Debug().Int("count", len(reqs)).Msg("worker: claimed requests")
	}
	return len(reqs)
}

func (in *intake) flushPending(ctx context.Context) {
	if in.pipeline.Pending() == 0 {
		return
	}
	handles, err := in.pipeline.Flush(ctx)
	if err != nil {
		in.logger.Error().Err(err).Msg("worker: flush failed")
	}
	in.logger.Debug().Int("jobs", len(handles)).Msg("worker: flushed batches")
}

// settle writes a finished request back to the durable store.
func settle(ctx context.Context, requests domain.RequestRepository, logger infra.Logger) pipeline.RequestDoneFunc {
	return func(req domain.ContentRequest, out domain.Output, res domain.JobExecutionResult) {
		var err error
		if res.State == domain.JobStateSucceeded && out.RequestID != "" {
			err = requests.MarkCompleted(ctx, req.ID, out)
		} else {
			reason := res.Reason
			if reason == "" {
				reason = "job finished in state " + string(res.State)
			}
			err = requests.MarkFailed(ctx, req.ID, reason)
		}
		if err != nil {
			logger.Error().Err(err).Str("request_id", req.ID).Str("job_id", res.JobID).Msg("worker: update status failed")
		}
	}
}
