package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/courier/internal/core/domain"
)

// Retrying wraps a Sink with bounded exponential backoff. It owns the
// retry contract of the pipeline: any error it returns has already
// survived the full retry budget and is permanent from the caller's
// point of view.
type Retrying struct {
	inner        Sink
	maxAttempts  uint64
	initialDelay time.Duration
	log          *slog.Logger
}

// NewRetrying wraps inner with maxAttempts total attempts and an
// initial backoff delay that doubles per attempt.
func NewRetrying(inner Sink, maxAttempts int, initialDelay time.Duration) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{
		inner:        inner,
		maxAttempts:  uint64(maxAttempts),
		initialDelay: initialDelay,
		log:          slog.Default().With("component", "sink"),
	}
}

// WriteBatch attempts the underlying write up to the configured number
// of attempts. Context cancellation stops retrying immediately.
func (s *Retrying) WriteBatch(ctx context.Context, category domain.Category, batch domain.Batch) error {
	backoff := retry.WithMaxRetries(s.maxAttempts-1, retry.NewExponential(s.initialDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.inner.WriteBatch(ctx, category, batch); err != nil {
			s.log.Warn("Sink write failed",
				"category", string(category),
				"attempt", attempt,
				"size", len(batch),
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write batch after %d attempts: %w", attempt, err)
	}
	return nil
}

// Close closes the wrapped sink.
func (s *Retrying) Close() error {
	return s.inner.Close()
}
