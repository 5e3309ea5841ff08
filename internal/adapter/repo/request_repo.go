package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
	"genqueue/internal/sqlinline"
)

// RequestRepositoryPG is the intake queue of generation requests.
type RequestRepositoryPG struct {
	db infra.SQLExecutor
}

// NewRequestRepository creates a repository over db.
func NewRequestRepository(db infra.SQLExecutor) *RequestRepositoryPG {
	return &RequestRepositoryPG{db: db}
}

// ClaimQueued moves up to limit QUEUED requests to RUNNING and returns them,
// most urgent first. Concurrent workers never claim the same row.
func (r *RequestRepositoryPG) ClaimQueued(ctx context.Context, limit int) ([]domain.ContentRequest, error) {
	rows, err := r.db.Query(ctx, sqlinline.QWorkerClaimRequests, limit)
	if err != nil {
		return nil, fmt.Errorf("claim requests: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentRequest
	for rows.Next() {
		var (
			req       domain.ContentRequest
			kind      string
			durSecs   float64
			styleJSON []byte
			priority  int16
		)
		if err := rows.Scan(
			&req.ID,
			&req.UserID,
			&req.ProjectID,
			&kind,
			&req.Prompt,
			&req.Resolution,
			&durSecs,
			&req.Engine,
			&styleJSON,
			&priority,
			&req.EstimatedCost,
			&req.References,
			&req.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		req.Kind = domain.ContentKind(kind)
		req.Duration = time.Duration(durSecs * float64(time.Second))
		req.Priority = domain.Priority(priority)
		if len(styleJSON) > 0 {
			if err := json.Unmarshal(styleJSON, &req.Style); err != nil {
				return nil, fmt.Errorf("decode style of %s: %w", req.ID, err)
			}
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim requests: %w", err)
	}
	return out, nil
}

// MarkCompleted stores out and marks the request SUCCEEDED.
func (r *RequestRepositoryPG) MarkCompleted(ctx context.Context, requestID string, out domain.Output) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode output of %s: %w", requestID, err)
	}
	if _, err := r.db.Exec(ctx, sqlinline.QWorkerMarkRequestSucceeded, requestID, raw); err != nil {
		return fmt.Errorf("mark request %s succeeded: %w", requestID, err)
	}
	return nil
}

// MarkFailed records reason and marks the request FAILED.
func (r *RequestRepositoryPG) MarkFailed(ctx context.Context, requestID, reason string) error {
	if _, err := r.db.Exec(ctx, sqlinline.QWorkerMarkRequestFailed, requestID, reason); err != nil {
		return fmt.Errorf("mark request %s failed: %w", requestID, err)
	}
	return nil
}

// RequeueStale returns RUNNING requests untouched for longer than olderThan
// to the queue. Crashed workers leave such rows behind.
func (r *RequestRepositoryPG) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QWorkerRequeueStale, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("requeue stale requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.RequestRepository = (*RequestRepositoryPG)(nil)
