package storage

import (
	"context"
	"errors"
	"testing"
)

func TestFileStoreWriteOnce(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	key, err := store.Write(ctx, "./deadletter//batch/a.json", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "deadletter/batch/a.json" {
		t.Fatalf("key = %q", key)
	}
	if _, err := store.Write(ctx, key, []byte(`{"a":2}`)); !errors.Is(err, ErrObjectExists) {
		t.Fatalf("second Write err = %v, want ErrObjectExists", err)
	}
	data, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("data = %s, want original", data)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) succeeded, want error", key)
		}
	}
}
