package deadletter

import (
	"encoding/json"
	"fmt"
	"time"

	"genqueue/internal/domain"
)

// Record is the serialized form of an entry, shared by the archive and the
// SQL store.
type Record struct {
	ID        string                 `json:"id"`
	Job       domain.JobContext      `json:"job"`
	Payload   json.RawMessage        `json:"payload"`
	Failure   domain.FailureType     `json:"failure"`
	Reason    string                 `json:"reason"`
	Attempts  int                    `json:"attempts"`
	History   []domain.AttemptRecord `json:"history"`
	CreatedAt time.Time              `json:"created_at"`
}

// ToRecord encodes e.
func ToRecord(e domain.DeadLetterEntry) (Record, error) {
	payload, err := domain.EncodePayload(e.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("deadletter: encode payload: %w", err)
	}
	return Record{
		ID:        e.ID,
		Job:       e.Job,
		Payload:   payload,
		Failure:   e.Failure,
		Reason:    e.Reason,
		Attempts:  e.Attempts,
		History:   e.History,
		CreatedAt: e.CreatedAt,
	}, nil
}

// Entry decodes r.
func (r Record) Entry() (domain.DeadLetterEntry, error) {
	payload, err := domain.DecodePayload(r.Payload)
	if err != nil {
		return domain.DeadLetterEntry{}, fmt.Errorf("deadletter: decode payload: %w", err)
	}
	return domain.DeadLetterEntry{
		ID:        r.ID,
		Job:       r.Job,
		Payload:   payload,
		Failure:   r.Failure,
		Reason:    r.Reason,
		Attempts:  r.Attempts,
		History:   r.History,
		CreatedAt: r.CreatedAt,
	}, nil
}
