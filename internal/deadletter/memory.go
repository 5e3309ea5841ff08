// Package deadletter holds jobs that will not be retried again. Entries are
// append-only: nothing here rewrites or deletes them.
package deadletter

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
)

// Archiver copies appended entries to durable storage.
type Archiver interface {
	Archive(ctx context.Context, entry domain.DeadLetterEntry) error
}

type shard struct {
	mu      sync.RWMutex
	entries []domain.DeadLetterEntry
}

// MemoryStore keeps entries in memory, one shard per job type so appends for
// unrelated job types do not contend.
type MemoryStore struct {
	archiver Archiver
	logger   zerolog.Logger

	mu     sync.RWMutex
	shards map[domain.JobType]*shard
}

// NewMemoryStore creates an empty store. archiver may be nil.
func NewMemoryStore(archiver Archiver, logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		archiver: archiver,
		logger:   logger,
		shards:   make(map[domain.JobType]*shard),
	}
}

func (s *MemoryStore) shardFor(jt domain.JobType) *shard {
	s.mu.RLock()
	sh, ok := s.shards[jt]
	s.mu.RUnlock()
	if ok {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shards[jt]; ok {
		return sh
	}
	sh = &shard{}
	s.shards[jt] = sh
	return sh
}

// Append records entry. Archive failures are logged; the in-memory record
// is kept regardless.
func (s *MemoryStore) Append(ctx context.Context, entry domain.DeadLetterEntry) error {
	if entry.ID == "" {
		return &domain.ValidationError{Field: "entry.id", Reason: "is required"}
	}
	entry.History = append([]domain.AttemptRecord(nil), entry.History...)
	sh := s.shardFor(entry.Job.Type)
	sh.mu.Lock()
	sh.entries = append(sh.entries, entry)
	sh.mu.Unlock()

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, entry); err != nil {
			s.logger.Error().Err(err).Str("entry_id", entry.ID).Str("job_id", entry.Job.ID).Msg("deadletter: archive failed")
		}
	}
	return nil
}

// List returns matching entries newest first. limit <= 0 means no limit.
func (s *MemoryStore) List(ctx context.Context, filter domain.DeadLetterFilter, limit int) ([]domain.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.DeadLetterEntry
	for _, sh := range s.selectShards(filter.JobType) {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if filter.Match(e) {
				out = append(out, e)
			}
		}
		sh.mu.RUnlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) selectShards(jt domain.JobType) []*shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if jt != "" {
		if sh, ok := s.shards[jt]; ok {
			return []*shard{sh}
		}
		return nil
	}
	out := make([]*shard, 0, len(s.shards))
	for _, sh := range s.shards {
		out = append(out, sh)
	}
	return out
}

// Stats counts entries overall and per failure type.
func (s *MemoryStore) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeadLetterStats{}, err
	}
	stats := domain.DeadLetterStats{FailureTypeCounts: make(map[domain.FailureType]int)}
	for _, sh := range s.selectShards("") {
		sh.mu.RLock()
		for _, e := range sh.entries {
			stats.TotalJobs++
			stats.FailureTypeCounts[e.Failure]++
		}
		sh.mu.RUnlock()
	}
	return stats, nil
}

var _ domain.DeadLetterRepository = (*MemoryStore)(nil)
