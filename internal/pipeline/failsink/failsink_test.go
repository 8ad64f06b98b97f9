package failsink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vietddude/courier/internal/core/domain"
)

func TestRecordAccumulates(t *testing.T) {
	fs := New()
	fs.Record("high", domain.Batch{{ID: 1}, {ID: 2}}, "sink rejected")
	fs.Record("high", domain.Batch{{ID: 3}}, "sink rejected")
	fs.Record("low", domain.Batch{{ID: 4}}, "panic in dispatch")

	if got := fs.Count("high"); got != 2 {
		t.Errorf("expected 2 high batches, got %d", got)
	}
	if got := fs.Count("low"); got != 1 {
		t.Errorf("expected 1 low batch, got %d", got)
	}
	if got := fs.TotalRecords(); got != 4 {
		t.Errorf("expected 4 records total, got %d", got)
	}
}

func TestFlushWritesPerCategory(t *testing.T) {
	dir := t.TempDir()
	fs := New()
	fs.Record("high", domain.Batch{{ID: 1}, {ID: 2}}, "sink rejected")
	fs.Record("low", domain.Batch{{ID: 3}}, "sink rejected")

	if err := fs.Flush(dir); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 dump files, got %d", len(entries))
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "failed_high_*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one high dump file, got %v", matches)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	var batches []domain.FailedBatch
	if err := json.Unmarshal(data, &batches); err != nil {
		t.Fatalf("dump is not valid JSON: %v", err)
	}
	if len(batches) != 1 || len(batches[0].Records) != 2 {
		t.Errorf("unexpected dump contents: %+v", batches)
	}
	if batches[0].Reason != "sink rejected" {
		t.Errorf("expected reason preserved, got %q", batches[0].Reason)
	}

	// Flush drains: a second flush writes nothing.
	if got := fs.Count("high"); got != 0 {
		t.Errorf("expected drained sink, got %d batches", got)
	}
}

func TestFlushSkipsEmpty(t *testing.T) {
	dir := t.TempDir()
	fs := New()

	if err := fs.Flush(dir); err != nil {
		t.Fatalf("Flush of empty sink failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("empty sink must not write files, found %d", len(entries))
	}
}
