package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"genqueue/internal/domain"
)

// ObjectWriter is satisfied by the filesystem and object storage backends.
type ObjectWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// ObjectArchiver writes one JSON document per entry, partitioned by job
// type and day.
type ObjectArchiver struct {
	w      ObjectWriter
	prefix string
}

// NewObjectArchiver creates an archiver writing under prefix.
func NewObjectArchiver(w ObjectWriter, prefix string) *ObjectArchiver {
	if prefix == "" {
		prefix = "deadletter"
	}
	return &ObjectArchiver{w: w, prefix: prefix}
}

// Key returns the object key used for e.
func (a *ObjectArchiver) Key(e domain.DeadLetterEntry) string {
	jt := string(e.Job.Type)
	if jt == "" {
		jt = "unknown"
	}
	return fmt.Sprintf("%s/%s/%s/%s.json", a.prefix, jt, e.CreatedAt.UTC().Format("2006-01-02"), e.ID)
}

// Archive implements Archiver.
func (a *ObjectArchiver) Archive(ctx context.Context, e domain.DeadLetterEntry) error {
	rec, err := ToRecord(e)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("deadletter: marshal record: %w", err)
	}
	if _, err := a.w.Write(ctx, a.Key(e), data); err != nil {
		return fmt.Errorf("deadletter: archive %s: %w", e.ID, err)
	}
	return nil
}

var _ Archiver = (*ObjectArchiver)(nil)
