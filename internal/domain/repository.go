package domain

import "context"

// JobStateSink receives job lifecycle transitions. Implementations decide
// how, or whether, to persist them.
type JobStateSink interface {
	RecordTransition(ctx context.Context, t JobTransition) error
}

// DeadLetterRepository is the append-only dead-letter contract.
type DeadLetterRepository interface {
	Append(ctx context.Context, entry DeadLetterEntry) error
	List(ctx context.Context, filter DeadLetterFilter, limit int) ([]DeadLetterEntry, error)
	Stats(ctx context.Context) (DeadLetterStats, error)
}

// RequestRepository tracks the status of intake generation requests.
type RequestRepository interface {
	ClaimQueued(ctx context.Context, limit int) ([]ContentRequest, error)
	MarkCompleted(ctx context.Context, requestID string, out Output) error
	MarkFailed(ctx context.Context, requestID string, reason string) error
}
