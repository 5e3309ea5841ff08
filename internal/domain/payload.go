package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the work a job carries. It is sealed: the only variants are
// BatchPayload and SinglePayload.
type Payload interface {
	payload()
}

// BatchPayload wraps a sealed batch.
type BatchPayload struct {
	Batch Batch
}

// SinglePayload wraps one request dispatched on its own.
type SinglePayload struct {
	Request ContentRequest
}

func (BatchPayload) payload()  {}
func (SinglePayload) payload() {}

// Requests flattens a payload into the requests it covers.
func Requests(p Payload) []ContentRequest {
	switch v := p.(type) {
	case BatchPayload:
		return v.Batch.Requests
	case SinglePayload:
		return []ContentRequest{v.Request}
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("domain: unhandled payload %T", p))
	}
}

// PayloadCost is the estimated cost of everything in p.
func PayloadCost(p Payload) float64 {
	var total float64
	for _, r := range Requests(p) {
		total += r.EstimatedCost
	}
	return total
}

const (
	payloadKindBatch  = "batch"
	payloadKindSingle = "single"
)

type payloadEnvelope struct {
	Kind    string          `json:"kind"`
	Batch   *Batch          `json:"batch,omitempty"`
	Request *ContentRequest `json:"request,omitempty"`
}

// EncodePayload renders p as a tagged JSON envelope for durable stores.
func EncodePayload(p Payload) ([]byte, error) {
	var env payloadEnvelope
	switch v := p.(type) {
	case BatchPayload:
		b := v.Batch
		env = payloadEnvelope{Kind: payloadKindBatch, Batch: &b}
	case SinglePayload:
		r := v.Request
		env = payloadEnvelope{Kind: payloadKindSingle, Request: &r}
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidPayload, p)
	}
	return json.Marshal(env)
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch env.Kind {
	case payloadKindBatch:
		if env.Batch == nil {
			return nil, fmt.Errorf("%w: batch envelope without batch", ErrInvalidPayload)
		}
		return BatchPayload{Batch: *env.Batch}, nil
	case payloadKindSingle:
		if env.Request == nil {
			return nil, fmt.Errorf("%w: single envelope without request", ErrInvalidPayload)
		}
		return SinglePayload{Request: *env.Request}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, env.Kind)
	}
}
