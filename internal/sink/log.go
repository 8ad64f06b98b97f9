package sink

import (
	"context"
	"log/slog"

	"github.com/vietddude/courier/internal/core/domain"
)

// LogSink writes batches to the log. Used when no real downstream is
// configured, mostly in development.
type LogSink struct{}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// WriteBatch logs each record and always succeeds.
func (s *LogSink) WriteBatch(ctx context.Context, category domain.Category, batch domain.Batch) error {
	for _, r := range batch {
		slog.Info("Record delivered", "category", string(category), "id", uint64(r.ID))
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }
