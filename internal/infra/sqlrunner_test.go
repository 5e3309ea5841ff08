package infra

import (
	"strings"
	"testing"

	"genqueue/internal/sqlinline"
)

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		marker  string
		body    string
		wantErr bool
	}{
		{
			name:   "marked",
			query:  "--sql 0b1e7d9a-3c2f-4e8a-9d61-5f2c7a8e4b10\nselect 1;",
			marker: "0b1e7d9a-3c2f-4e8a-9d61-5f2c7a8e4b10",
			body:   "select 1;",
		},
		{
			name:   "leading whitespace",
			query:  "\n  --sql 0b1e7d9a-3c2f-4e8a-9d61-5f2c7a8e4b10\nselect 1;\n",
			marker: "0b1e7d9a-3c2f-4e8a-9d61-5f2c7a8e4b10",
			body:   "select 1;",
		},
		{name: "missing marker", query: "select 1;", wantErr: true},
		{name: "malformed uuid", query: "--sql 1234\nselect 1;", wantErr: true},
		{name: "empty", query: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			marker, body, err := extractMarker(tc.query)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("extractMarker(%q) succeeded", tc.query)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractMarker: %v", err)
			}
			if marker != tc.marker || strings.TrimSpace(body) != tc.body {
				t.Fatalf("got (%q, %q), want (%q, %q)", marker, body, tc.marker, tc.body)
			}
		})
	}
}

func TestStatementsCarryUniqueMarkers(t *testing.T) {
	statements := map[string]string{
		"QWorkerClaimRequests":        sqlinline.QWorkerClaimRequests,
		"QWorkerMarkRequestSucceeded": sqlinline.QWorkerMarkRequestSucceeded,
		"QWorkerMarkRequestFailed":    sqlinline.QWorkerMarkRequestFailed,
		"QWorkerRequeueStale":         sqlinline.QWorkerRequeueStale,
		"QRecordJobTransition":        sqlinline.QRecordJobTransition,
		"QInsertDeadLetter":           sqlinline.QInsertDeadLetter,
		"QListDeadLetters":            sqlinline.QListDeadLetters,
		"QDeadLetterStats":            sqlinline.QDeadLetterStats,
		"QEnsureSchema":               sqlinline.QEnsureSchema,
		"QSelectProviderToken":        sqlinline.QSelectProviderToken,
		"QUpsertProviderToken":        sqlinline.QUpsertProviderToken,
	}
	seen := make(map[string]string, len(statements))
	for name, q := range statements {
		marker, _, err := extractMarker(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if other, dup := seen[marker]; dup {
			t.Fatalf("%s reuses marker of %s", name, other)
		}
		seen[marker] = name
	}
}
