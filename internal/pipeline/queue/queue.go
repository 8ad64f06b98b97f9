package queue

import (
	"log/slog"
	"sync"

	"github.com/vietddude/courier/internal/core/domain"
)

// FlushRequester receives out-of-band flush requests from queues that
// hit their batch-size or capacity watermark. Requests are hints, not
// promises: the dispatcher may coalesce them with its periodic cycle.
type FlushRequester interface {
	RequestFlush()
}

// Queue is a bounded FIFO of pending records for one category.
//
// Enqueue never blocks the producer and never drops data: reaching
// capacity raises a flush request instead of rejecting the record.
type Queue struct {
	category  domain.Category
	capacity  int
	batchSize int
	flusher   FlushRequester

	mu    sync.Mutex
	items []domain.Record

	log *slog.Logger
}

// New creates an empty queue for one category.
func New(category domain.Category, capacity, batchSize int, flusher FlushRequester) *Queue {
	return &Queue{
		category:  category,
		capacity:  capacity,
		batchSize: batchSize,
		flusher:   flusher,
		log:       slog.Default().With("category", string(category)),
	}
}

// Category returns the category this queue serves.
func (q *Queue) Category() domain.Category {
	return q.category
}

// Enqueue appends a record. If the queue has reached its capacity the
// record is still accepted and an out-of-band flush is requested;
// reaching the batch size likewise requests a flush.
func (q *Queue) Enqueue(rec domain.Record) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.log.Warn("Queue at capacity, forcing flush", "size", len(q.items), "capacity", q.capacity)
		q.requestFlush()
	}
	q.items = append(q.items, rec)
	reached := len(q.items) >= q.batchSize
	q.mu.Unlock()

	if reached {
		q.requestFlush()
	}
}

// PopBatch removes and returns up to n records in FIFO order. The lock
// is held only for the pop, never across downstream calls.
func (q *Queue) PopBatch(n int) domain.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make(domain.Batch, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

// Requeue pushes a batch back onto the front of the queue, preserving
// its internal order. Records enqueued while the batch was popped land
// behind it: dispatch order stays FIFO per category even when a batch
// bounces off an open breaker.
func (q *Queue) Requeue(batch domain.Batch) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]domain.Record, 0, len(batch)+len(q.items)), batch...), q.items...)
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) requestFlush() {
	if q.flusher != nil {
		q.flusher.RequestFlush()
	}
}
