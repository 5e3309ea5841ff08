// Package batching groups compatible generation requests into bounded
// batches.
package batching

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"genqueue/internal/domain"
)

// Config bounds every batch the assembler seals.
type Config struct {
	MaxBatchSize        int
	MaxBatchCost        float64
	MaxBatchDuration    time.Duration // zero disables the duration bound
	SimilarityThreshold float64
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:        10,
		MaxBatchCost:        100,
		MaxBatchDuration:    10 * time.Minute,
		SimilarityThreshold: 0.7,
	}
}

func (c Config) constraints() domain.BatchConstraints {
	return domain.BatchConstraints{MaxItems: c.MaxBatchSize, MaxCost: c.MaxBatchCost, MaxDuration: c.MaxBatchDuration}
}

// Assembler queues requests until BuildOptimalBatches drains them.
type Assembler struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	pending []domain.ContentRequest
	ids     map[string]struct{}
}

// NewAssembler creates an assembler; zero fields in cfg take defaults.
func NewAssembler(cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxBatchCost <= 0 {
		cfg.MaxBatchCost = def.MaxBatchCost
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	return &Assembler{cfg: cfg, now: time.Now, ids: make(map[string]struct{})}
}

// AddRequest queues req. Malformed requests, requests that could never fit a
// batch on their own, and ids already queued are rejected.
func (a *Assembler) AddRequest(req domain.ContentRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.EstimatedCost > a.cfg.MaxBatchCost {
		return &domain.ValidationError{
			Field:  "estimated_cost",
			Reason: fmt.Sprintf("%.2f exceeds batch maximum %.2f", req.EstimatedCost, a.cfg.MaxBatchCost),
		}
	}
	if a.cfg.MaxBatchDuration > 0 && req.Duration > a.cfg.MaxBatchDuration {
		return &domain.ValidationError{
			Field:  "duration",
			Reason: fmt.Sprintf("%s exceeds batch maximum %s", req.Duration, a.cfg.MaxBatchDuration),
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.ids[req.ID]; dup {
		return fmt.Errorf("%w: request %s already queued", domain.ErrDuplicateOperation, req.ID)
	}
	a.ids[req.ID] = struct{}{}
	a.pending = append(a.pending, req)
	return nil
}

// Pending reports how many requests are waiting for a batch.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// BuildOptimalBatches drains the queue into sealed batches. Requests are
// visited most urgent first, arrival order within a tier. Each batch is seeded
// with the first unassigned request and grown greedily with every later
// request that keeps it within bounds and similar enough to its members.
func (a *Assembler) BuildOptimalBatches() []domain.Batch {
	a.mu.Lock()
	queue := a.pending
	a.pending = nil
	a.ids = make(map[string]struct{})
	a.mu.Unlock()

	if len(queue) == 0 {
		return nil
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Priority < queue[j].Priority })

	assigned := make([]bool, len(queue))
	var batches []domain.Batch
	for i, seed := range queue {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []domain.ContentRequest{seed}
		cost, dur := seed.EstimatedCost, seed.Duration

		for j := i + 1; j < len(queue) && len(members) < a.cfg.MaxBatchSize; j++ {
			if assigned[j] {
				continue
			}
			cand := queue[j]
			if !compatible(seed, cand) {
				continue
			}
			if cost+cand.EstimatedCost > a.cfg.MaxBatchCost {
				continue
			}
			if a.cfg.MaxBatchDuration > 0 && dur+cand.Duration > a.cfg.MaxBatchDuration {
				continue
			}
			if centroidSimilarity(members, cand) < a.cfg.SimilarityThreshold {
				continue
			}
			assigned[j] = true
			members = append(members, cand)
			cost += cand.EstimatedCost
			dur += cand.Duration
		}
		batches = append(batches, a.seal(members))
	}
	return batches
}

func (a *Assembler) seal(members []domain.ContentRequest) domain.Batch {
	prio := members[0].Priority
	for _, m := range members[1:] {
		prio = min(prio, m.Priority)
	}
	return domain.Batch{
		ID:          uuid.NewString(),
		Requests:    members,
		Constraints: a.cfg.constraints(),
		Kind:        members[0].Kind,
		Engine:      members[0].Engine,
		Resolution:  members[0].Resolution,
		Similarity:  cohesion(members),
		Priority:    prio,
		SealedAt:    a.now(),
	}
}
