package domain

import (
	"math"
	"strings"
	"time"
)

// ContentKind enumerates the media a request asks the backend to produce.
type ContentKind string

const (
	ContentVideo ContentKind = "video"
	ContentImage ContentKind = "image"
	ContentAudio ContentKind = "audio"
)

// Valid reports whether k is one of the supported kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentVideo, ContentImage, ContentAudio:
		return true
	default:
		return false
	}
}

// ContentRequest is a single generation request. It is treated as immutable
// once handed to the batch assembler.
type ContentRequest struct {
	ID            string
	UserID        string
	ProjectID     string
	Kind          ContentKind
	Prompt        string
	Resolution    string
	Duration      time.Duration
	Engine        string
	Style         map[string]string
	Priority      Priority
	EstimatedCost float64
	References    []string
	CreatedAt     time.Time
}

// Validate checks the fields every downstream component relies on.
func (r ContentRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return &ValidationError{Field: "id", Reason: "is required"}
	case !r.Kind.Valid():
		return &ValidationError{Field: "kind", Reason: "unsupported content kind " + string(r.Kind)}
	case strings.TrimSpace(r.Prompt) == "":
		return &ValidationError{Field: "prompt", Reason: "is required"}
	case strings.TrimSpace(r.Engine) == "":
		return &ValidationError{Field: "engine", Reason: "is required"}
	case strings.TrimSpace(r.Resolution) == "":
		return &ValidationError{Field: "resolution", Reason: "is required"}
	case math.IsNaN(r.EstimatedCost) || math.IsInf(r.EstimatedCost, 0):
		return &ValidationError{Field: "estimated_cost", Reason: "must be a finite number"}
	case r.EstimatedCost < 0:
		return &ValidationError{Field: "estimated_cost", Reason: "must not be negative"}
	case r.Duration < 0:
		return &ValidationError{Field: "duration", Reason: "must not be negative"}
	case !r.Priority.Valid():
		return &ValidationError{Field: "priority", Reason: "out of range"}
	}
	return nil
}

// BatchConstraints bound a batch at seal time.
type BatchConstraints struct {
	MaxItems    int
	MaxCost     float64
	MaxDuration time.Duration
}

// Batch is a sealed, ordered group of compatible requests.
type Batch struct {
	ID          string
	Requests    []ContentRequest
	Constraints BatchConstraints
	Kind        ContentKind
	Engine      string
	Resolution  string
	Similarity  float64
	Priority    Priority
	SealedAt    time.Time
}

// TotalCost sums the estimated cost of every member.
func (b Batch) TotalCost() float64 {
	var total float64
	for _, r := range b.Requests {
		total += r.EstimatedCost
	}
	return total
}

// TotalDuration sums the requested media duration of every member.
func (b Batch) TotalDuration() time.Duration {
	var total time.Duration
	for _, r := range b.Requests {
		total += r.Duration
	}
	return total
}

// Size returns the number of requests in the batch.
func (b Batch) Size() int { return len(b.Requests) }

// Output is the backend result for one request.
type Output struct {
	RequestID string            `json:"request_id"`
	URI       string            `json:"uri,omitempty"`
	Format    string            `json:"format,omitempty"`
	Data      []byte            `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Result is what the generation backend returns for a payload.
type Result struct {
	Outputs []Output `json:"outputs"`
}

// Output looks up the output produced for requestID.
func (r Result) Output(requestID string) (Output, bool) {
	for _, o := range r.Outputs {
		if o.RequestID == requestID {
			return o, true
		}
	}
	return Output{}, false
}
