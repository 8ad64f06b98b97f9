package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/infra/metrics"
	"github.com/vietddude/courier/internal/pipeline/breaker"
	"github.com/vietddude/courier/internal/pipeline/failsink"
	"github.com/vietddude/courier/internal/pipeline/queue"
	"github.com/vietddude/courier/internal/sink"
)

// Config holds dispatcher settings.
type Config struct {
	Categories       []domain.Category
	MaxQueueSize     int
	MaxBatchSize     int
	ProcessInterval  time.Duration
	CategoryPause    time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	RecordsDelivered int64
	BatchesDelivered int64
	BatchesFailed    int64
	BatchesRequeued  int64
}

// Dispatcher owns one queue and one circuit breaker per category and
// drains them in batches toward the sink. Dispatch cycles are guarded
// by a single non-reentrant process-wide lock: a trigger that arrives
// while a cycle is running is a no-op and relies on the next trigger to
// pick up remaining work.
type Dispatcher struct {
	cfg      Config
	queues   map[domain.Category]*queue.Queue
	breakers map[domain.Category]*breaker.Breaker
	sink     sink.Sink
	failures *failsink.FailSink

	// cycleMu also guards lastRun.
	cycleMu sync.Mutex
	lastRun time.Time

	flushCh chan struct{}
	running atomic.Bool
	stop    chan struct{}

	recordsDelivered atomic.Int64
	batchesDelivered atomic.Int64
	batchesFailed    atomic.Int64
	batchesRequeued  atomic.Int64

	log *slog.Logger
	now func() time.Time
}

// New fully initializes a dispatcher: every category's queue and
// breaker exists before any task starts.
func New(cfg Config, snk sink.Sink, failures *failsink.FailSink) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		queues:   make(map[domain.Category]*queue.Queue, len(cfg.Categories)),
		breakers: make(map[domain.Category]*breaker.Breaker, len(cfg.Categories)),
		sink:     snk,
		failures: failures,
		flushCh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		log:      slog.Default().With("component", "dispatch"),
		now:      time.Now,
	}
	for _, c := range cfg.Categories {
		d.queues[c] = queue.New(c, cfg.MaxQueueSize, cfg.MaxBatchSize, d)
		d.breakers[c] = breaker.New(string(c), cfg.BreakerThreshold, cfg.BreakerTimeout)
	}
	return d
}

// Enqueue routes a record to its category queue. It never blocks.
func (d *Dispatcher) Enqueue(rec domain.Record) error {
	q, ok := d.queues[rec.Category]
	if !ok {
		return fmt.Errorf("unknown category %q", rec.Category)
	}
	q.Enqueue(rec)
	metrics.QueueDepth.WithLabelValues(string(rec.Category)).Set(float64(q.Len()))
	return nil
}

// RequestFlush schedules an out-of-band dispatch cycle. Signals
// coalesce in a capacity-1 channel consumed by the single Run loop, so
// a burst of triggers causes at most one extra cycle.
func (d *Dispatcher) RequestFlush() {
	select {
	case d.flushCh <- struct{}{}:
	default:
	}
}

// Categories returns the canonical category set in configured order.
func (d *Dispatcher) Categories() []domain.Category {
	return d.cfg.Categories
}

// QueueDepth returns the pending record count for a category.
func (d *Dispatcher) QueueDepth(c domain.Category) int {
	if q, ok := d.queues[c]; ok {
		return q.Len()
	}
	return 0
}

// BreakerState returns the breaker state for a category.
func (d *Dispatcher) BreakerState(c domain.Category) breaker.State {
	if b, ok := d.breakers[c]; ok {
		return b.State()
	}
	return breaker.StateClosed
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		RecordsDelivered: d.recordsDelivered.Load(),
		BatchesDelivered: d.batchesDelivered.Load(),
		BatchesFailed:    d.batchesFailed.Load(),
		BatchesRequeued:  d.batchesRequeued.Load(),
	}
}

// Run is the single dispatcher loop. It reacts to the periodic ticker
// and to coalesced flush requests, and exits when the context is
// cancelled or Stop is called. An in-flight cycle always finishes.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}
	defer d.running.Store(false)

	ticker := time.NewTicker(d.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stop:
			return nil
		case <-ticker.C:
			d.RunCycle(ctx, false)
		case <-d.flushCh:
			d.RunCycle(ctx, false)
		}
	}
}

// Stop signals the Run loop to exit.
func (d *Dispatcher) Stop() {
	if d.running.Load() {
		close(d.stop)
	}
}

// RunCycle executes one dispatch cycle over all categories. If another
// cycle is already running this call is a no-op. Unless forced, cycles
// are rate-limited to one successful run per ProcessInterval so rapid
// triggers do not hammer the sink. Returns true if any batch reached
// the sink successfully.
func (d *Dispatcher) RunCycle(ctx context.Context, force bool) bool {
	if !d.cycleMu.TryLock() {
		d.log.Debug("Dispatch cycle already in progress, skipping")
		return false
	}
	defer d.cycleMu.Unlock()

	if !force && d.now().Sub(d.lastRun) < d.cfg.ProcessInterval {
		d.log.Debug("Skipping cycle, interval not elapsed")
		return false
	}

	processed := false
	for i, c := range d.cfg.Categories {
		if ctx.Err() != nil && !force {
			break
		}
		if d.processCategory(ctx, c) {
			processed = true
		}
		// Throttle back-to-back downstream calls.
		if i < len(d.cfg.Categories)-1 && d.cfg.CategoryPause > 0 {
			time.Sleep(d.cfg.CategoryPause)
		}
	}

	if processed {
		d.lastRun = d.now()
	}
	return processed
}

// processCategory pops one batch and routes it through the breaker to
// the sink. Any panic inside the category's processing is converted
// into a permanent failure for the current batch so one category's
// unexpected failure cannot crash the dispatcher or starve the others.
func (d *Dispatcher) processCategory(ctx context.Context, c domain.Category) (ok bool) {
	q := d.queues[c]
	if q.Len() == 0 {
		return false
	}

	batch := q.PopBatch(d.cfg.MaxBatchSize)
	if len(batch) == 0 {
		return false
	}
	defer func() {
		metrics.QueueDepth.WithLabelValues(string(c)).Set(float64(q.Len()))
		if r := recover(); r != nil {
			d.log.Error("Panic during dispatch, batch recorded as failed", "category", string(c), "panic", r)
			d.failures.Record(c, batch, fmt.Sprintf("panic: %v", r))
			d.breakers[c].RecordFailure()
			d.batchesFailed.Add(1)
			metrics.BatchesFailed.WithLabelValues(string(c)).Inc()
			ok = false
		}
	}()

	b := d.breakers[c]
	if b.IsOpen() {
		// Preemptive skip, not a failure: the batch goes back to the
		// front of the queue untouched and no sink call is made.
		d.log.Warn("Breaker open, requeueing batch", "category", string(c), "size", len(batch))
		q.Requeue(batch)
		d.batchesRequeued.Add(1)
		metrics.BatchesRequeued.WithLabelValues(string(c)).Inc()
		metrics.BreakerOpen.WithLabelValues(string(c)).Set(1)
		return false
	}
	metrics.BreakerOpen.WithLabelValues(string(c)).Set(0)

	start := d.now()
	err := d.sink.WriteBatch(ctx, c, batch)
	metrics.SinkWriteLatency.WithLabelValues(string(c)).Observe(d.now().Sub(start).Seconds())

	if err != nil {
		// The sink already exhausted its own retry budget; the batch is
		// terminal and is never re-queued.
		b.RecordFailure()
		d.failures.Record(c, batch, err.Error())
		d.batchesFailed.Add(1)
		metrics.BatchesFailed.WithLabelValues(string(c)).Inc()
		return false
	}

	b.RecordSuccess()
	d.batchesDelivered.Add(1)
	d.recordsDelivered.Add(int64(len(batch)))
	metrics.BatchesDispatched.WithLabelValues(string(c)).Inc()
	d.log.Info("Batch dispatched", "category", string(c), "size", len(batch))
	return true
}
