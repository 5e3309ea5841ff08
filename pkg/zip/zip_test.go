package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchiveRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := Archive([]File{
		{Name: "a/1.json", Data: []byte(`{"id":"1"}`), Modified: at},
		{Name: "b/2.json", Data: []byte(`{"id":"2"}`), Modified: at},
	})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[1].Name != "b/2.json" {
		t.Fatalf("members = %d", len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open member: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != `{"id":"1"}` {
		t.Fatalf("member data = %s", data)
	}
}

func TestArchiveRejectsDuplicates(t *testing.T) {
	if _, err := Archive([]File{{Name: "x"}, {Name: "x"}}); err == nil {
		t.Fatal("duplicate member accepted")
	}
}
