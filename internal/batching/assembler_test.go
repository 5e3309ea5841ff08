package batching

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"genqueue/internal/domain"
)

func req(id, prompt string) domain.ContentRequest {
	return domain.ContentRequest{
		ID:            id,
		UserID:        "u1",
		ProjectID:     "p1",
		Kind:          domain.ContentVideo,
		Prompt:        prompt,
		Resolution:    "1080p",
		Duration:      8 * time.Second,
		Engine:        "veo",
		Style:         map[string]string{"mood": "calm"},
		Priority:      domain.PriorityNormal,
		EstimatedCost: 10,
	}
}

func TestSimilarRequestsShareABatch(t *testing.T) {
	a := NewAssembler(DefaultConfig())
	for _, r := range []domain.ContentRequest{
		req("r1", "a red fox running through fresh snow at dawn"),
		req("r2", "a red fox running through fresh snow at dusk"),
		req("r3", "red fox running through fresh snow at dawn"),
		req("r4", "an orchestra tuning before a concert"),
	} {
		if err := a.AddRequest(r); err != nil {
			t.Fatalf("AddRequest(%s): %v", r.ID, err)
		}
	}

	batches := a.BuildOptimalBatches()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if batches[0].Size() != 3 || batches[1].Size() != 1 {
		t.Fatalf("batch sizes = %d, %d; want 3, 1", batches[0].Size(), batches[1].Size())
	}
	if batches[1].Requests[0].ID != "r4" {
		t.Fatalf("singleton = %s, want r4", batches[1].Requests[0].ID)
	}
	if batches[1].Similarity != 1 || batches[0].Similarity < DefaultConfig().SimilarityThreshold {
		t.Fatalf("similarities = %v, %v", batches[0].Similarity, batches[1].Similarity)
	}
	if a.Pending() != 0 {
		t.Fatalf("pending = %d after build", a.Pending())
	}
}

func TestHardGatesSplitBatches(t *testing.T) {
	a := NewAssembler(DefaultConfig())
	base := req("r1", "mountain lake at sunrise")
	img := base
	img.ID, img.Kind = "r2", domain.ContentImage
	res := base
	res.ID, res.Resolution = "r3", "720p"
	for _, r := range []domain.ContentRequest{base, img, res} {
		if err := a.AddRequest(r); err != nil {
			t.Fatalf("AddRequest: %v", err)
		}
	}
	if got := len(a.BuildOptimalBatches()); got != 3 {
		t.Fatalf("got %d batches, want 3", got)
	}
}

func TestHardGatesHoldAtZeroThreshold(t *testing.T) {
	a := NewAssembler(Config{MaxBatchSize: 10, MaxBatchCost: 100, SimilarityThreshold: 0})
	video := req("v1", "a lighthouse in a storm")
	image := req("i1", "a lighthouse in a storm")
	image.Kind, image.Engine = domain.ContentImage, "imagen"
	wide := req("v2", "a lighthouse in a storm")
	wide.Resolution = "4k"
	for _, r := range []domain.ContentRequest{video, image, wide} {
		if err := a.AddRequest(r); err != nil {
			t.Fatalf("AddRequest(%s): %v", r.ID, err)
		}
	}
	batches := a.BuildOptimalBatches()
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	for _, b := range batches {
		for _, m := range b.Requests {
			if m.Kind != b.Kind || m.Engine != b.Engine || m.Resolution != b.Resolution {
				t.Fatalf("batch %s/%s/%s holds %s (%s/%s/%s)", b.Kind, b.Engine, b.Resolution, m.ID, m.Kind, m.Engine, m.Resolution)
			}
		}
	}
}

func TestAddRequestRejections(t *testing.T) {
	a := NewAssembler(Config{MaxBatchSize: 4, MaxBatchCost: 50, MaxBatchDuration: time.Minute, SimilarityThreshold: 0.7})

	missing := req("r1", "")
	if err := a.AddRequest(missing); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing prompt: err = %v, want validation", err)
	}

	expensive := req("r2", "x")
	expensive.EstimatedCost = 51
	if err := a.AddRequest(expensive); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("oversized cost: err = %v, want validation", err)
	}

	long := req("r3", "x")
	long.Duration = 2 * time.Minute
	if err := a.AddRequest(long); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("oversized duration: err = %v, want validation", err)
	}

	for _, cost := range []float64{math.NaN(), math.Inf(1)} {
		bad := req("r5", "x")
		bad.EstimatedCost = cost
		if err := a.AddRequest(bad); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("cost %v: err = %v, want validation", cost, err)
		}
	}

	ok := req("r4", "x")
	if err := a.AddRequest(ok); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if err := a.AddRequest(ok); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("duplicate: err = %v", err)
	}
	if a.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", a.Pending())
	}
}

func TestUrgentRequestsSeedFirst(t *testing.T) {
	a := NewAssembler(DefaultConfig())
	low := req("low", "quiet forest path")
	low.Priority = domain.PriorityLow
	urgent := req("urgent", "city skyline timelapse")
	urgent.Priority = domain.PriorityUrgent
	_ = a.AddRequest(low)
	_ = a.AddRequest(urgent)

	batches := a.BuildOptimalBatches()
	if len(batches) != 2 || batches[0].Priority != domain.PriorityUrgent {
		t.Fatalf("first batch priority = %v", batches[0].Priority)
	}
}

func TestBatchesNeverExceedBounds(t *testing.T) {
	cfg := Config{MaxBatchSize: 5, MaxBatchCost: 40, MaxBatchDuration: 30 * time.Second, SimilarityThreshold: 0.4}
	rng := rand.New(rand.NewSource(7))
	words := []string{"sunset", "ocean", "cat", "robot", "forest", "neon", "rain", "desert"}
	engines := []string{"veo", "sora"}

	for round := 0; round < 20; round++ {
		a := NewAssembler(cfg)
		n := 10 + rng.Intn(40)
		for i := 0; i < n; i++ {
			r := req(fmt.Sprintf("r%d-%d", round, i), words[rng.Intn(len(words))]+" "+words[rng.Intn(len(words))])
			r.Engine = engines[rng.Intn(len(engines))]
			r.EstimatedCost = float64(1 + rng.Intn(20))
			r.Duration = time.Duration(1+rng.Intn(15)) * time.Second
			r.Priority = domain.Priority(rng.Intn(5))
			if err := a.AddRequest(r); err != nil {
				t.Fatalf("AddRequest: %v", err)
			}
		}

		seen := 0
		for _, b := range a.BuildOptimalBatches() {
			seen += b.Size()
			if b.Size() > cfg.MaxBatchSize {
				t.Fatalf("batch size %d > %d", b.Size(), cfg.MaxBatchSize)
			}
			if b.TotalCost() > cfg.MaxBatchCost {
				t.Fatalf("batch cost %.0f > %.0f", b.TotalCost(), cfg.MaxBatchCost)
			}
			if b.TotalDuration() > cfg.MaxBatchDuration {
				t.Fatalf("batch duration %s > %s", b.TotalDuration(), cfg.MaxBatchDuration)
			}
			for _, m := range b.Requests {
				if m.Engine != b.Engine || m.Kind != b.Kind || m.Resolution != b.Resolution {
					t.Fatalf("incompatible member %s in batch %s", m.ID, b.ID)
				}
			}
		}
		if seen != n {
			t.Fatalf("round %d: %d requests batched, want %d", round, seen, n)
		}
	}
}

func TestCostBenefitAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		similarity float64
		want       Recommendation
	}{
		{"singleton", 1, 1, ProcessIndividually},
		{"small batch", 3, 0.9, ConsiderBatch},
		{"large homogeneous batch", 6, 1, ProcessAsBatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := domain.Batch{Similarity: tc.similarity}
			for i := 0; i < tc.size; i++ {
				b.Requests = append(b.Requests, req(fmt.Sprint(i), "p"))
			}
			got := CostBenefitAnalysis(b)
			if got.Recommendation != tc.want {
				t.Fatalf("recommendation = %s (ratio %.3f), want %s", got.Recommendation, got.BenefitRatio, tc.want)
			}
			if got.IndividualCost != float64(tc.size)*10 || got.BatchCost > got.IndividualCost {
				t.Fatalf("costs = %+v", got)
			}
		})
	}
}
