package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

type flakySink struct {
	failures int // fail this many calls before succeeding
	calls    int
}

func (s *flakySink) WriteBatch(ctx context.Context, category domain.Category, batch domain.Batch) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("downstream unavailable")
	}
	return nil
}

func (s *flakySink) Close() error { return nil }

func TestRetryingSucceedsWithinBudget(t *testing.T) {
	inner := &flakySink{failures: 2}
	s := NewRetrying(inner, 3, time.Millisecond)

	err := s.WriteBatch(context.Background(), "high", domain.Batch{{ID: 1}})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingExhaustsBudget(t *testing.T) {
	inner := &flakySink{failures: 10}
	s := NewRetrying(inner, 3, time.Millisecond)

	err := s.WriteBatch(context.Background(), "high", domain.Batch{{ID: 1}})
	if err == nil {
		t.Fatal("expected terminal error after retry budget exhausted")
	}
	if inner.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingHonorsCancellation(t *testing.T) {
	inner := &flakySink{failures: 100}
	s := NewRetrying(inner, 50, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := s.WriteBatch(ctx, "high", domain.Batch{{ID: 1}})
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if inner.calls >= 50 {
		t.Errorf("cancellation should have cut retries short, got %d calls", inner.calls)
	}
}
