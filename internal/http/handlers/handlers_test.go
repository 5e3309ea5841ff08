package handlers

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genqueue/internal/deadletter"
	"genqueue/internal/domain"
	"genqueue/internal/worker"
)

func seededStore(t *testing.T) *deadletter.MemoryStore {
	t.Helper()
	store := deadletter.NewMemoryStore(nil, zerolog.Nop())
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i, ft := range []domain.FailureType{domain.FailureValidation, domain.FailureTransient, domain.FailureTransient} {
		e := domain.DeadLetterEntry{
			ID:        string(rune('a' + i)),
			Job:       domain.JobContext{ID: "job", Type: domain.JobTypeSingleGenerate, Handler: "veo"},
			Payload:   domain.SinglePayload{Request: domain.ContentRequest{ID: "r", Kind: domain.ContentImage, Prompt: "p"}},
			Failure:   ft,
			Reason:    "boom",
			Attempts:  1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return store
}

func TestDeadLetterListFilters(t *testing.T) {
	app := &App{DeadLetters: seededStore(t), Logger: zerolog.Nop()}

	tests := []struct {
		name  string
		query string
		code  int
		ids   []string
	}{
		{"all newest first", "", http.StatusOK, []string{"c", "b", "a"}},
		{"failure filter", "?failure=transient", http.StatusOK, []string{"c", "b"}},
		{"limit", "?limit=1", http.StatusOK, []string{"c"}},
		{"time window", "?since=2026-02-01T08:00:30Z&until=2026-02-01T08:02:00Z", http.StatusOK, []string{"b"}},
		{"job type filter", "?job_type=batch_generate", http.StatusOK, []string{}},
		{"bad failure", "?failure=bogus", http.StatusBadRequest, nil},
		{"bad limit", "?limit=-2", http.StatusBadRequest, nil},
		{"bad since", "?since=yesterday", http.StatusBadRequest, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.DeadLetterList(rr, httptest.NewRequest(http.MethodGet, "/v1/deadletter"+tc.query, nil))
			if rr.Code != tc.code {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tc.code, rr.Body.String())
			}
			if tc.ids == nil {
				return
			}
			var body struct {
				Items []struct {
					ID      string          `json:"id"`
					Payload json.RawMessage `json:"payload"`
				} `json:"items"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Items) != len(tc.ids) {
				t.Fatalf("items = %d, want %d", len(body.Items), len(tc.ids))
			}
			for i, it := range body.Items {
				if it.ID != tc.ids[i] {
					t.Fatalf("item %d = %s, want %s", i, it.ID, tc.ids[i])
				}
				if len(it.Payload) == 0 {
					t.Fatalf("item %s has no payload", it.ID)
				}
			}
		})
	}
}

func TestDeadLetterStats(t *testing.T) {
	app := &App{DeadLetters: seededStore(t), Logger: zerolog.Nop()}
	rr := httptest.NewRecorder()
	app.DeadLetterStats(rr, httptest.NewRequest(http.MethodGet, "/v1/deadletter/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var stats domain.DeadLetterStats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalJobs != 3 || stats.FailureTypeCounts[domain.FailureTransient] != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

type brokenStore struct{ domain.DeadLetterRepository }

func (brokenStore) Stats(context.Context) (domain.DeadLetterStats, error) {
	return domain.DeadLetterStats{}, errors.New("db down")
}

func TestDeadLetterStatsStoreError(t *testing.T) {
	app := &App{DeadLetters: brokenStore{}, Logger: zerolog.Nop()}
	rr := httptest.NewRecorder()
	app.DeadLetterStats(rr, httptest.NewRequest(http.MethodGet, "/v1/deadletter/stats", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

type poolStub struct{ stats worker.Stats }

func (p poolStub) Stats() worker.Stats { return p.stats }

func TestUnconfiguredSourcesAnswerNotFound(t *testing.T) {
	app := &App{Logger: zerolog.Nop()}
	for name, h := range map[string]http.HandlerFunc{
		"deadletter": app.DeadLetterList,
		"breakers":   app.BreakerStates,
		"cache":      app.CacheStats,
		"pool":       app.PoolStats,
		"ratelimit":  app.RateLimitSnapshot,
	} {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", name, rr.Code)
		}
	}

	app.Pool = poolStub{stats: worker.Stats{Workers: 4, Succeeded: 7}}
	rr := httptest.NewRecorder()
	app.PoolStats(rr, httptest.NewRequest(http.MethodGet, "/v1/pool/stats", nil))
	var got worker.Stats
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Workers != 4 || got.Succeeded != 7 {
		t.Fatalf("pool stats = %+v", got)
	}
}

func TestDeadLetterExportZipsRecords(t *testing.T) {
	app := &App{DeadLetters: seededStore(t), Logger: zerolog.Nop()}
	rr := httptest.NewRecorder()
	app.DeadLetterExport(rr, httptest.NewRequest(http.MethodGet, "/v1/deadletter/export?failure=TRANSIENT", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("status = %d, content type = %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	body := rr.Body.Bytes()
	zr, err := stdzip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "single_generate/c.json" {
		names := make([]string, len(zr.File))
		for i, f := range zr.File {
			names[i] = f.Name
		}
		t.Fatalf("members = %v", names)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open member: %v", err)
	}
	defer rc.Close()
	var rec deadletter.Record
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.ID != "c" || rec.Failure != domain.FailureTransient {
		t.Fatalf("record = %+v", rec)
	}
}
