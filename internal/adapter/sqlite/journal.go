// Package sqlite keeps a local journal of job transitions, useful when the
// worker runs without access to the shared database or for post-mortems.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"genqueue/internal/domain"
)

// Journal is an append-only log of job transitions in a SQLite file.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		job_type TEXT NOT NULL,
		user_id TEXT,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_transitions_job ON job_transitions(job_id);
	CREATE INDEX IF NOT EXISTS idx_job_transitions_status ON job_transitions(status);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (j *Journal) Close() error { return j.db.Close() }

// RecordTransition appends t.
func (j *Journal) RecordTransition(ctx context.Context, t domain.JobTransition) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO job_transitions (job_id, job_type, user_id, status, retry_count, error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.JobID, string(t.JobType), nullString(t.UserID), string(t.Status), t.RetryCount, nullString(t.ErrorMessage), t.At.UTC())
	if err != nil {
		return fmt.Errorf("journal transition %s: %w", t.JobID, err)
	}
	return nil
}

// History returns the transitions of one job in the order recorded.
func (j *Journal) History(ctx context.Context, jobID string) ([]domain.JobTransition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT job_id, job_type, user_id, status, retry_count, error_message, recorded_at
		FROM job_transitions WHERE job_id = ? ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("journal history: %w", err)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

// CountByStatus counts journal rows per status.
func (j *Journal) CountByStatus(ctx context.Context) (map[domain.JobState]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_transitions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journal counts: %w", err)
	}
	defer rows.Close()
	out := make(map[domain.JobState]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.JobState(status)] = n
	}
	return out, rows.Err()
}

func scanTransitions(rows *sql.Rows) ([]domain.JobTransition, error) {
	var out []domain.JobTransition
	for rows.Next() {
		var (
			t       domain.JobTransition
			jobType string
			status  string
			userID  sql.NullString
			errMsg  sql.NullString
			at      time.Time
		)
		if err := rows.Scan(&t.JobID, &jobType, &userID, &status, &t.RetryCount, &errMsg, &at); err != nil {
			return nil, err
		}
		t.JobType = domain.JobType(jobType)
		t.Status = domain.JobState(status)
		t.UserID = userID.String
		t.ErrorMessage = errMsg.String
		t.At = at
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Fanout forwards each transition to every sink and returns the first error.
type Fanout []domain.JobStateSink

func (f Fanout) RecordTransition(ctx context.Context, t domain.JobTransition) error {
	var first error
	for _, s := range f {
		if err := s.RecordTransition(ctx, t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ domain.JobStateSink = (*Journal)(nil)
	_ domain.JobStateSink = Fanout(nil)
)
