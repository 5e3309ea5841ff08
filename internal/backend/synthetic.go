package backend

import (
	"context"
	"fmt"
	"time"

	"genqueue/internal/domain"
)

// Synthetic fabricates outputs locally. It backs development deployments
// with no provider endpoint configured.
type Synthetic struct {
	// Latency is slept per call, honoring ctx.
	Latency time.Duration
}

var formats = map[domain.ContentKind]string{
	domain.ContentVideo: "video/mp4",
	domain.ContentImage: "image/png",
	domain.ContentAudio: "audio/mpeg",
}

func (s Synthetic) Generate(ctx context.Context, jc domain.JobContext, reqs []domain.ContentRequest) ([]domain.Output, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	out := make([]domain.Output, len(reqs))
	for i, r := range reqs {
		out[i] = domain.Output{
			RequestID: r.ID,
			URI:       fmt.Sprintf("synthetic://%s/%s/%s", r.Kind, jc.ID, r.ID),
			Format:    formats[r.Kind],
			Metadata: map[string]string{
				"engine":     r.Engine,
				"resolution": r.Resolution,
				"batch_size": fmt.Sprint(len(reqs)),
			},
		}
	}
	return out, nil
}

var _ Generator = Synthetic{}
