// Package backend adapts generation providers to the retry executor
// contract.
package backend

import (
	"context"
	"fmt"
	"strings"

	"genqueue/internal/domain"
)

// Generator produces one output per request. Every request handed to a
// generator shares kind, engine and resolution.
type Generator interface {
	Generate(ctx context.Context, jc domain.JobContext, reqs []domain.ContentRequest) ([]domain.Output, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, jc domain.JobContext, reqs []domain.ContentRequest) ([]domain.Output, error)

func (f GeneratorFunc) Generate(ctx context.Context, jc domain.JobContext, reqs []domain.ContentRequest) ([]domain.Output, error) {
	return f(ctx, jc, reqs)
}

// Router picks a generator by content kind.
type Router struct {
	generators map[domain.ContentKind]Generator
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{generators: make(map[domain.ContentKind]Generator)}
}

// Handle registers g for kind, replacing any previous registration.
func (r *Router) Handle(kind domain.ContentKind, g Generator) *Router {
	r.generators[kind] = g
	return r
}

// Execute satisfies retry.Executor.
func (r *Router) Execute(ctx context.Context, jc domain.JobContext, p domain.Payload) (domain.Result, error) {
	var (
		kind domain.ContentKind
		reqs []domain.ContentRequest
	)
	switch v := p.(type) {
	case domain.BatchPayload:
		kind, reqs = v.Batch.Kind, v.Batch.Requests
	case domain.SinglePayload:
		kind, reqs = v.Request.Kind, []domain.ContentRequest{v.Request}
	default:
		return domain.Result{}, fmt.Errorf("%w: %T", domain.ErrInvalidPayload, p)
	}
	if len(reqs) == 0 {
		return domain.Result{}, fmt.Errorf("%w: empty payload", domain.ErrInvalidPayload)
	}
	g, ok := r.generators[kind]
	if !ok {
		return domain.Result{}, fmt.Errorf("%w: no generator for %s", domain.ErrPermanent, kind)
	}
	outputs, err := g.Generate(ctx, jc, reqs)
	if err != nil {
		return domain.Result{}, err
	}
	if missing := missingOutputs(reqs, outputs); len(missing) > 0 {
		return domain.Result{}, fmt.Errorf("%w: backend returned no output for %s", domain.ErrTransient, strings.Join(missing, ", "))
	}
	return domain.Result{Outputs: outputs}, nil
}

func missingOutputs(reqs []domain.ContentRequest, outputs []domain.Output) []string {
	got := make(map[string]struct{}, len(outputs))
	for _, o := range outputs {
		got[o.RequestID] = struct{}{}
	}
	var missing []string
	for _, r := range reqs {
		if _, ok := got[r.ID]; !ok {
			missing = append(missing, r.ID)
		}
	}
	return missing
}
