package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"genqueue/internal/deadletter"
	"genqueue/internal/domain"
	"genqueue/internal/infra"
	"genqueue/internal/sqlinline"
)

// DeadLetterRepositoryPG is an append-only dead-letter store in PostgreSQL.
type DeadLetterRepositoryPG struct {
	db infra.SQLExecutor
}

// NewDeadLetterRepository creates a repository over db.
func NewDeadLetterRepository(db infra.SQLExecutor) *DeadLetterRepositoryPG {
	return &DeadLetterRepositoryPG{db: db}
}

// Append inserts entry. Inserting an existing id fails.
func (r *DeadLetterRepositoryPG) Append(ctx context.Context, entry domain.DeadLetterEntry) error {
	rec, err := deadletter.ToRecord(entry)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", entry.ID, err)
	}
	_, err = r.db.Exec(ctx, sqlinline.QInsertDeadLetter,
		entry.ID,
		entry.Job.ID,
		string(entry.Job.Type),
		string(entry.Failure),
		entry.Reason,
		entry.Attempts,
		raw,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", entry.ID, err)
	}
	return nil
}

// List returns matching entries, newest first. limit <= 0 returns all.
func (r *DeadLetterRepositoryPG) List(ctx context.Context, filter domain.DeadLetterFilter, limit int) ([]domain.DeadLetterEntry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.db.Query(ctx, sqlinline.QListDeadLetters,
		string(filter.JobType),
		string(filter.Failure),
		nullableTime(filter.Since),
		nullableTime(filter.Until),
		lim,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetterEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		var rec deadletter.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		entry, err := rec.Entry()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}

// Stats counts entries per failure type.
func (r *DeadLetterRepositoryPG) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	rows, err := r.db.Query(ctx, sqlinline.QDeadLetterStats)
	if err != nil {
		return domain.DeadLetterStats{}, fmt.Errorf("dead letter stats: %w", err)
	}
	defer rows.Close()

	stats := domain.DeadLetterStats{FailureTypeCounts: make(map[domain.FailureType]int)}
	for rows.Next() {
		var (
			ft    string
			count int64
		)
		if err := rows.Scan(&ft, &count); err != nil {
			return domain.DeadLetterStats{}, fmt.Errorf("scan dead letter stats: %w", err)
		}
		stats.FailureTypeCounts[domain.FailureType(ft)] = int(count)
		stats.TotalJobs += int(count)
	}
	if err := rows.Err(); err != nil {
		return domain.DeadLetterStats{}, fmt.Errorf("dead letter stats: %w", err)
	}
	return stats, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ domain.DeadLetterRepository = (*DeadLetterRepositoryPG)(nil)
