package failsink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/courier/internal/core/domain"
)

// FailSink accumulates permanently failed batches in memory. The
// pipeline never retries them; at shutdown Flush serializes each
// category's failures to a timestamped JSON file for manual recovery.
type FailSink struct {
	mu     sync.Mutex
	failed map[domain.Category][]domain.FailedBatch
	log    *slog.Logger
	now    func() time.Time
}

// New creates an empty failure sink.
func New() *FailSink {
	return &FailSink{
		failed: make(map[domain.Category][]domain.FailedBatch),
		log:    slog.Default().With("component", "failsink"),
		now:    time.Now,
	}
}

// Record stores a failed batch with a reason.
func (f *FailSink) Record(category domain.Category, batch domain.Batch, reason string) {
	fb := domain.FailedBatch{
		ID:       uuid.New().String(),
		Category: category,
		Records:  batch,
		Reason:   reason,
		FailedAt: f.now(),
	}

	f.mu.Lock()
	f.failed[category] = append(f.failed[category], fb)
	f.mu.Unlock()

	f.log.Warn("Batch recorded as permanently failed",
		"category", string(category), "size", len(batch), "reason", reason)
}

// Count returns the number of failed batches held for a category.
func (f *FailSink) Count(category domain.Category) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failed[category])
}

// TotalRecords returns the total number of records across all failed batches.
func (f *FailSink) TotalRecords() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, batches := range f.failed {
		for _, b := range batches {
			n += len(b.Records)
		}
	}
	return n
}

// Flush writes one JSON file per non-empty category into dir and clears
// the accumulated failures. Categories with no failures produce no file.
func (f *FailSink) Flush(dir string) error {
	f.mu.Lock()
	drained := f.failed
	f.failed = make(map[domain.Category][]domain.FailedBatch)
	f.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create failures dir: %w", err)
	}

	ts := f.now().Format("20060102_150405")
	var firstErr error
	for category, batches := range drained {
		if len(batches) == 0 {
			continue
		}

		name := filepath.Join(dir, fmt.Sprintf("failed_%s_%s.json", category, ts))
		data, err := json.MarshalIndent(batches, "", "  ")
		if err != nil {
			f.log.Error("Failed to serialize failed batches", "category", string(category), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.WriteFile(name, data, 0o644); err != nil {
			f.log.Error("Failed to write failure dump", "file", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.log.Info("Wrote failure dump", "file", name, "batches", len(batches))
	}
	return firstErr
}
