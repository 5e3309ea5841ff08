package repo

import (
	"context"
	"fmt"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
	"genqueue/internal/sqlinline"
)

// JobRepositoryPG persists job lifecycle transitions; it implements
// domain.JobStateSink.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// RecordTransition upserts the job row with its latest status.
func (r *JobRepositoryPG) RecordTransition(ctx context.Context, t domain.JobTransition) error {
	_, err := r.db.Exec(ctx, sqlinline.QRecordJobTransition,
		t.JobID,
		string(t.JobType),
		t.UserID,
		string(t.Status),
		t.RetryCount,
		t.ErrorMessage,
		t.At,
	)
	if err != nil {
		return fmt.Errorf("record transition %s: %w", t.JobID, err)
	}
	return nil
}

// EnsureSchema creates the tables used by the repositories.
func EnsureSchema(ctx context.Context, db infra.SQLExecutor) error {
	if _, err := db.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

var _ domain.JobStateSink = (*JobRepositoryPG)(nil)
