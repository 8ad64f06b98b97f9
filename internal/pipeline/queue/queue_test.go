package queue

import (
	"encoding/json"
	"testing"

	"github.com/vietddude/courier/internal/core/domain"
)

type countingFlusher struct {
	requests int
}

func (f *countingFlusher) RequestFlush() { f.requests++ }

func rec(id uint64) domain.Record {
	return domain.Record{
		ID:       domain.RecordID(id),
		Category: "high",
		Payload:  json.RawMessage(`{}`),
	}
}

func TestFIFOOrder(t *testing.T) {
	q := New("high", 100, 50, nil)
	for i := uint64(1); i <= 5; i++ {
		q.Enqueue(rec(i))
	}

	batch := q.PopBatch(5)
	if len(batch) != 5 {
		t.Fatalf("expected 5 records, got %d", len(batch))
	}
	for i, r := range batch {
		if r.ID != domain.RecordID(i+1) {
			t.Errorf("position %d: expected id %d, got %d", i, i+1, r.ID)
		}
	}
}

func TestPopBatchBound(t *testing.T) {
	q := New("high", 100, 50, nil)
	for i := uint64(1); i <= 10; i++ {
		q.Enqueue(rec(i))
	}

	batch := q.PopBatch(3)
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
	if q.Len() != 7 {
		t.Errorf("expected 7 remaining, got %d", q.Len())
	}

	// Popping more than available returns only what is queued.
	batch = q.PopBatch(100)
	if len(batch) != 7 {
		t.Errorf("expected 7, got %d", len(batch))
	}
	if got := q.PopBatch(3); got != nil {
		t.Errorf("expected nil batch from empty queue, got %v", got)
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	f := &countingFlusher{}
	q := New("high", 100, 3, f)

	q.Enqueue(rec(1))
	q.Enqueue(rec(2))
	if f.requests != 0 {
		t.Fatalf("no flush expected below batch size, got %d", f.requests)
	}

	q.Enqueue(rec(3))
	if f.requests != 1 {
		t.Fatalf("expected 1 flush request at batch size, got %d", f.requests)
	}
}

func TestCapacityAcceptsAndSignals(t *testing.T) {
	f := &countingFlusher{}
	q := New("high", 2, 100, f)

	q.Enqueue(rec(1))
	q.Enqueue(rec(2))
	if f.requests != 0 {
		t.Fatalf("no flush expected before capacity, got %d", f.requests)
	}

	// At capacity: still accepted, flush requested, nothing dropped.
	q.Enqueue(rec(3))
	if f.requests != 1 {
		t.Errorf("expected flush request at capacity, got %d", f.requests)
	}
	if q.Len() != 3 {
		t.Errorf("record over capacity must not be dropped, len=%d", q.Len())
	}
}

func TestRequeuePreservesFrontOrder(t *testing.T) {
	q := New("high", 100, 50, nil)
	for i := uint64(1); i <= 3; i++ {
		q.Enqueue(rec(i))
	}

	batch := q.PopBatch(2) // [1 2]
	q.Enqueue(rec(4))      // queue now [3 4]
	q.Requeue(batch)       // queue now [1 2 3 4]

	out := q.PopBatch(4)
	want := []uint64{1, 2, 3, 4}
	for i, r := range out {
		if r.ID != domain.RecordID(want[i]) {
			t.Errorf("position %d: expected %d, got %d", i, want[i], r.ID)
		}
	}
}
