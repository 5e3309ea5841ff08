package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/pipeline"
)

type fakeBulk struct {
	jobs map[string]pipeline.BulkJob
	rows []domain.ContentRequest
}

func (f *fakeBulk) CreateBulkJob(sheetID, userID string) (pipeline.BulkJob, error) {
	if sheetID == "" {
		return pipeline.BulkJob{}, &domain.ValidationError{Field: "sheet_id", Reason: "is required"}
	}
	id := pipeline.BulkJobID(sheetID, userID)
	job := pipeline.BulkJob{ID: id, SheetID: sheetID, UserID: userID}
	f.jobs[id] = job
	return job, nil
}

func (f *fakeBulk) Get(id string) (pipeline.BulkJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return pipeline.BulkJob{}, fmt.Errorf("bulk job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (f *fakeBulk) List() []pipeline.BulkJob {
	out := make([]pipeline.BulkJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeBulk) AddRows(_ context.Context, _ string, rows []domain.ContentRequest) ([]pipeline.Submission, []error) {
	var subs []pipeline.Submission
	var errs []error
	for _, r := range rows {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("row %s: %w", r.ID, err))
			continue
		}
		f.rows = append(f.rows, r)
		subs = append(subs, pipeline.Submission{RequestID: r.ID})
	}
	return subs, errs
}

func bulkRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/bulk", app.BulkCreate)
	r.Get("/v1/bulk", app.BulkList)
	r.Get("/v1/bulk/{id}", app.BulkGet)
	r.Post("/v1/bulk/{id}/rows", app.BulkAddRows)
	return r
}

func TestBulkCreateAndGet(t *testing.T) {
	bulk := &fakeBulk{jobs: make(map[string]pipeline.BulkJob)}
	h := bulkRouter(&App{Bulk: bulk, Logger: zerolog.Nop()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/bulk", strings.NewReader(`{"sheet_id":"s1","user_id":"u1"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d (%s)", rr.Code, rr.Body.String())
	}
	var job pipeline.BulkJob
	if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != pipeline.BulkJobID("s1", "u1") {
		t.Fatalf("id = %s", job.ID)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/bulk/"+job.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"missing sheet", http.MethodPost, "/v1/bulk", `{"user_id":"u1"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/v1/bulk", `{`, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/v1/bulk/nope", "", http.StatusNotFound},
		{"rows for unknown job", http.MethodPost, "/v1/bulk/nope/rows", `{"rows":[]}`, http.StatusNotFound},
		{"empty rows", http.MethodPost, "/v1/bulk/" + job.ID + "/rows", `{"rows":[]}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			if rr.Code != tc.code {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tc.code, rr.Body.String())
			}
		})
	}
}

func TestBulkAddRowsReportsRejections(t *testing.T) {
	bulk := &fakeBulk{jobs: make(map[string]pipeline.BulkJob)}
	job, _ := bulk.CreateBulkJob("s1", "u1")
	h := bulkRouter(&App{Bulk: bulk, Logger: zerolog.Nop()})

	body := `{"rows":[
		{"id":"r1","project_id":"p1","kind":"video","prompt":"a lighthouse","resolution":"1080p","duration_seconds":6,"engine":"veo","priority":"high","estimated_cost":3},
		{"id":"r2","kind":"video","prompt":"a lighthouse","resolution":"1080p","engine":"veo","priority":"someday"},
		{"id":"r3","kind":"hologram","prompt":"x","resolution":"1080p","engine":"veo"}
	]}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/bulk/"+job.ID+"/rows", strings.NewReader(body)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	var resp struct {
		Accepted []pipeline.Submission `json:"accepted"`
		Rejected []string              `json:"rejected"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Accepted) != 1 || len(resp.Rejected) != 2 {
		t.Fatalf("accepted = %d rejected = %v", len(resp.Accepted), resp.Rejected)
	}
	got := bulk.rows[0]
	if got.Priority != domain.PriorityHigh || got.Duration.Seconds() != 6 || got.CreatedAt.IsZero() {
		t.Fatalf("row = %+v", got)
	}
}

func TestBulkDisabled(t *testing.T) {
	h := bulkRouter(&App{Logger: zerolog.Nop()})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/bulk", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
