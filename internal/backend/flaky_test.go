package backend

import (
	"context"
	"sync/atomic"

	"genqueue/internal/domain"
)

// Flaky fails the first Failures calls with Err before delegating to Next.
// Tests use it to rehearse retry behavior against a real generator.
type Flaky struct {
	Next     Generator
	Failures int32
	Err      error

	calls atomic.Int32
}

func (f *Flaky) Generate(ctx context.Context, jc domain.JobContext, reqs []domain.ContentRequest) ([]domain.Output, error) {
	if f.calls.Add(1) <= f.Failures {
		err := f.Err
		if err == nil {
			err = domain.ErrTransient
		}
		return nil, err
	}
	return f.Next.Generate(ctx, jc, reqs)
}

// Calls reports how many times Generate ran.
func (f *Flaky) Calls() int { return int(f.calls.Load()) }

var _ Generator = (*Flaky)(nil)
