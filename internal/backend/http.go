package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
)

// ErrMissingEndpoint indicates the client was configured without a base URL.
var ErrMissingEndpoint = errors.New("backend: endpoint is required")

// ErrResponseTooLarge is returned when a provider body exceeds the read cap.
var ErrResponseTooLarge = errors.New("backend: response body too large")

const maxResponseBytes = 8 << 20

// HTTPOptions configures an HTTP generation provider.
type HTTPOptions struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// HTTPGenerator posts requests to a provider's batch generation endpoint.
type HTTPGenerator struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	maxBody    int64
}

type generateRequest struct {
	JobID    string        `json:"job_id"`
	Handler  string        `json:"handler"`
	Requests []wireRequest `json:"requests"`
}

type wireRequest struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Prompt      string            `json:"prompt"`
	Resolution  string            `json:"resolution"`
	DurationSec float64           `json:"duration_seconds,omitempty"`
	Engine      string            `json:"engine"`
	Style       map[string]string `json:"style,omitempty"`
	References  []string          `json:"references,omitempty"`
}

type generateResponse struct {
	Outputs []domain.Output `json:"outputs"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPGenerator constructs a client with defaults for unset options.
func NewHTTPGenerator(opts HTTPOptions) (*HTTPGenerator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.Nop())
		logger = &l
	}
	return &HTTPGenerator{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		maxBody:    maxResponseBytes,
	}, nil
}

// Generate sends every request in one call. Non-2xx responses become
// *domain.BackendError so the failure classifier can read the status.
func (g *HTTPGenerator) Generate(ctx context.Context, jc domain.JobContext, reqs []domain.ContentRequest) ([]domain.Output, error) {
	payload := generateRequest{JobID: jc.ID, Handler: jc.Handler, Requests: make([]wireRequest, len(reqs))}
	for i, r := range reqs {
		payload.Requests[i] = wireRequest{
			ID:          r.ID,
			Kind:        string(r.Kind),
			Prompt:      r.Prompt,
			Resolution:  r.Resolution,
			DurationSec: r.Duration.Seconds(),
			Engine:      r.Engine,
			Style:       r.Style,
			References:  r.References,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backend: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	if int64(len(raw)) > g.maxBody {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, g.maxBody)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, &domain.BackendError{Status: resp.StatusCode, Message: fmt.Sprintf("%s (%s)", detail.Message, detail.Code)}
		}
		return nil, &domain.BackendError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("backend: decode response: %w", err)
	}
	g.logger.Debug().
		Str("job_id", jc.ID).
		Int("requests", len(reqs)).
		Int("outputs", len(decoded.Outputs)).
		Msg("backend: generated outputs")
	return decoded.Outputs, nil
}

var _ Generator = (*HTTPGenerator)(nil)
