package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"genqueue/internal/domain"
)

// bulkNamespace seeds name-based bulk job ids.
var bulkNamespace = uuid.MustParse("8c4e1f52-6a0b-4f3e-9d27-5b1a2c7e90d4")

// BulkJob groups the rows of one sheet submitted by one user.
type BulkJob struct {
	ID        string    `json:"id"`
	SheetID   string    `json:"sheet_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Submitted int       `json:"submitted"`
	Cached    int       `json:"cached"`
	Rejected  int       `json:"rejected"`
}

// Registry tracks bulk jobs for one pipeline. Construct one per process and
// pass it to whatever needs it.
type Registry struct {
	pipeline *Pipeline
	now      func() time.Time

	mu   sync.RWMutex
	jobs map[string]*BulkJob
}

// NewRegistry creates an empty registry feeding p.
func NewRegistry(p *Pipeline) *Registry {
	return &Registry{pipeline: p, now: time.Now, jobs: make(map[string]*BulkJob)}
}

// BulkJobID derives the id CreateBulkJob assigns to (sheetID, userID).
func BulkJobID(sheetID, userID string) string {
	return uuid.NewSHA1(bulkNamespace, []byte(sheetID+"\x00"+userID)).String()
}

// CreateBulkJob returns the bulk job for (sheetID, userID), creating it on
// first use. Repeated calls return the same identity.
func (r *Registry) CreateBulkJob(sheetID, userID string) (BulkJob, error) {
	sheetID, userID = strings.TrimSpace(sheetID), strings.TrimSpace(userID)
	if sheetID == "" {
		return BulkJob{}, &domain.ValidationError{Field: "sheet_id", Reason: "is required"}
	}
	if userID == "" {
		return BulkJob{}, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	id := BulkJobID(sheetID, userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		return *j, nil
	}
	j := &BulkJob{ID: id, SheetID: sheetID, UserID: userID, CreatedAt: r.now()}
	r.jobs[id] = j
	return *j, nil
}

// Get returns a bulk job by id.
func (r *Registry) Get(id string) (BulkJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return BulkJob{}, fmt.Errorf("bulk job %s: %w", id, domain.ErrNotFound)
	}
	return *j, nil
}

// List returns every bulk job, oldest first.
func (r *Registry) List() []BulkJob {
	r.mu.RLock()
	out := make([]BulkJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// AddRows submits the rows of a bulk job to the pipeline. Rows are billed to
// the bulk job's user. Rejected rows are counted and their errors returned;
// the remaining rows are still submitted.
func (r *Registry) AddRows(ctx context.Context, bulkID string, rows []domain.ContentRequest) ([]Submission, []error) {
	job, err := r.Get(bulkID)
	if err != nil {
		return nil, []error{err}
	}
	var (
		subs []Submission
		errs []error
	)
	var submitted, cached, rejected int
	for _, row := range rows {
		row.UserID = job.UserID
		sub, err := r.pipeline.Submit(ctx, row)
		if err != nil {
			rejected++
			errs = append(errs, fmt.Errorf("row %s: %w", row.ID, err))
			continue
		}
		submitted++
		if sub.Cached {
			cached++
		}
		subs = append(subs, sub)
	}

	r.mu.Lock()
	if j, ok := r.jobs[bulkID]; ok {
		j.Submitted += submitted
		j.Cached += cached
		j.Rejected += rejected
	}
	r.mu.Unlock()
	return subs, errs
}
