package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"genqueue/internal/domain"
	"genqueue/internal/failure"
)

func request(id string, kind domain.ContentKind) domain.ContentRequest {
	return domain.ContentRequest{ID: id, Kind: kind, Prompt: "a boat", Resolution: "720p", Engine: "veo"}
}

func TestRouterDispatchesByKind(t *testing.T) {
	router := NewRouter().Handle(domain.ContentVideo, Synthetic{})
	batch := domain.BatchPayload{Batch: domain.Batch{
		ID:       "b1",
		Kind:     domain.ContentVideo,
		Requests: []domain.ContentRequest{request("r1", domain.ContentVideo), request("r2", domain.ContentVideo)},
	}}
	res, err := router.Execute(context.Background(), domain.JobContext{ID: "j1"}, batch)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(res.Outputs))
	}
	if out, ok := res.Output("r2"); !ok || out.Format != "video/mp4" {
		t.Fatalf("output r2 = %+v, %v", out, ok)
	}

	_, err = router.Execute(context.Background(), domain.JobContext{ID: "j2"}, domain.SinglePayload{Request: request("r3", domain.ContentAudio)})
	if got := failure.Classify(err); got != domain.FailurePermanent {
		t.Fatalf("unrouted kind classified %s, want PERMANENT", got)
	}
}

func TestRouterRejectsIncompleteOutputs(t *testing.T) {
	partial := GeneratorFunc(func(_ context.Context, _ domain.JobContext, reqs []domain.ContentRequest) ([]domain.Output, error) {
		return []domain.Output{{RequestID: reqs[0].ID}}, nil
	})
	router := NewRouter().Handle(domain.ContentImage, partial)
	batch := domain.BatchPayload{Batch: domain.Batch{
		Kind:     domain.ContentImage,
		Requests: []domain.ContentRequest{request("a", domain.ContentImage), request("b", domain.ContentImage)},
	}}
	_, err := router.Execute(context.Background(), domain.JobContext{}, batch)
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestFlakyFailsThenDelegates(t *testing.T) {
	f := &Flaky{Next: Synthetic{}, Failures: 2, Err: &domain.BackendError{Status: 503}}
	reqs := []domain.ContentRequest{request("r1", domain.ContentImage)}
	for i := 0; i < 2; i++ {
		if _, err := f.Generate(context.Background(), domain.JobContext{}, reqs); err == nil {
			t.Fatalf("call %d succeeded, want failure", i+1)
		}
	}
	if _, err := f.Generate(context.Background(), domain.JobContext{}, reqs); err != nil {
		t.Fatalf("third call: %v", err)
	}
	if f.Calls() != 3 {
		t.Fatalf("calls = %d", f.Calls())
	}
}

func TestHTTPGenerator(t *testing.T) {
	var gotAuth string
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if gotBody.Requests[0].Prompt == "throttle me" {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errorResponse{Code: "quota", Message: "slow down"})
			return
		}
		resp := generateResponse{}
		for _, req := range gotBody.Requests {
			resp.Outputs = append(resp.Outputs, domain.Output{RequestID: req.ID, URI: "https://cdn/" + req.ID})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(HTTPOptions{BaseURL: srv.URL + "/", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPGenerator: %v", err)
	}
	jc := domain.JobContext{ID: "job-1", Handler: "veo"}
	outs, err := g.Generate(context.Background(), jc, []domain.ContentRequest{request("r1", domain.ContentVideo)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outs) != 1 || outs[0].URI != "https://cdn/r1" {
		t.Fatalf("outputs = %+v", outs)
	}
	if gotAuth != "Bearer secret" || gotBody.JobID != "job-1" {
		t.Fatalf("auth %q body %+v", gotAuth, gotBody)
	}

	throttled := request("r2", domain.ContentVideo)
	throttled.Prompt = "throttle me"
	_, err = g.Generate(context.Background(), jc, []domain.ContentRequest{throttled})
	var be *domain.BackendError
	if !errors.As(err, &be) || be.Status != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want 429 backend error", err)
	}
	if got := failure.Classify(err); got != domain.FailureRateLimited {
		t.Fatalf("classified %s, want RATE_LIMITED", got)
	}
}

func TestHTTPGeneratorCapsResponseBody(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"success body over cap", http.StatusOK, `{"outputs":[{"request_id":"r1","uri":"mem://r1"}]}`, ErrResponseTooLarge},
		{"error body over cap", http.StatusBadGateway, strings.Repeat("x", 64), ErrResponseTooLarge},
		{"body at cap", http.StatusOK, `{"outputs":[]}`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			g, err := NewHTTPGenerator(HTTPOptions{BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("NewHTTPGenerator: %v", err)
			}
			g.maxBody = int64(len(`{"outputs":[]}`))
			_, err = g.Generate(context.Background(), domain.JobContext{ID: "j1"}, []domain.ContentRequest{request("r1", domain.ContentVideo)})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Generate: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewHTTPGeneratorRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPGenerator(HTTPOptions{}); !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("err = %v", err)
	}
}
