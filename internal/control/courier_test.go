package control

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/courier/internal/core/config"
	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/store/dedup"
)

// =============================================================================
// Mocks
// =============================================================================

// chanSource feeds records from a channel, reporting not-found once
// drained so the ingest loop keeps polling.
type chanSource struct {
	ch chan domain.Record
}

func (s *chanSource) Next(ctx context.Context) (domain.Record, bool, error) {
	select {
	case <-ctx.Done():
		return domain.Record{}, false, ctx.Err()
	case rec := <-s.ch:
		return rec, true, nil
	case <-time.After(10 * time.Millisecond):
		return domain.Record{}, false, nil
	}
}

type captureSink struct {
	mu      sync.Mutex
	records int
	batches int
}

func (s *captureSink) WriteBatch(ctx context.Context, category domain.Category, batch domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.records += len(batch)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches, s.records
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Pipeline: config.PipelineConfig{
			Categories:       []string{"high", "low"},
			MaxQueueSize:     100,
			MaxBatchSize:     10,
			ProcessInterval:  20 * time.Millisecond,
			CategoryPause:    time.Millisecond,
			BreakerThreshold: 3,
			BreakerTimeout:   50 * time.Millisecond,
		},
		Store: config.StoreConfig{
			Path:         filepath.Join(dir, "ids.bin"),
			SaveInterval: time.Hour,
			MaxBackups:   2,
		},
		Memory: config.MemoryConfig{
			LimitMB:       4096,
			CheckInterval: time.Hour,
		},
		Source: config.SourceConfig{
			PollInterval: 10 * time.Millisecond,
		},
		Sink: config.SinkConfig{
			Type:  "log",
			Retry: config.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
		},
		FailuresDir: filepath.Join(dir, "failures"),
	}
}

func newTestCourier(t *testing.T, cfg *config.AppConfig, snk *captureSink) (*Courier, *chanSource) {
	t.Helper()
	store, err := dedup.New(dedup.Config{
		Path:         cfg.Store.Path,
		SaveInterval: cfg.Store.SaveInterval,
		MaxBackups:   cfg.Store.MaxBackups,
	})
	if err != nil {
		t.Fatalf("dedup.New failed: %v", err)
	}

	c := assemble(cfg, store, snk)
	src := &chanSource{ch: make(chan domain.Record, 64)}
	c.source = src
	return c, src
}

func record(id uint64, category string) domain.Record {
	return domain.Record{
		ID:         domain.RecordID(id),
		Category:   domain.Category(category),
		Payload:    json.RawMessage(fmt.Sprintf(`{"n":%d}`, id)),
		ReceivedAt: time.Now(),
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestCourier_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	snk := &captureSink{}
	c, src := newTestCourier(t, cfg, snk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := uint64(1); i <= 5; i++ {
		src.ch <- record(i, "high")
	}

	// Let ingest and at least one dispatch cycle run.
	time.Sleep(100 * time.Millisecond)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	_, records := snk.counts()
	if records != 5 {
		t.Errorf("expected 5 records delivered, got %d", records)
	}
	if c.store.Len() != 5 {
		t.Errorf("expected 5 ids in store, got %d", c.store.Len())
	}
}

func TestCourier_DeduplicatesAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	run := func(snk *captureSink, ids ...uint64) {
		c, src := newTestCourier(t, cfg, snk)
		ctx, cancel := context.WithCancel(context.Background())
		if err := c.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		for _, id := range ids {
			src.ch <- record(id, "low")
		}
		time.Sleep(80 * time.Millisecond)
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		if err := c.Stop(stopCtx); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	}

	first := &captureSink{}
	run(first, 1, 2, 3)
	if _, records := first.counts(); records != 3 {
		t.Fatalf("first run: expected 3 records, got %d", records)
	}

	// Second run re-sends 2 and 3 alongside a new record; only the new
	// one may reach the sink.
	second := &captureSink{}
	run(second, 2, 3, 4)
	if _, records := second.counts(); records != 1 {
		t.Errorf("second run: expected 1 record, got %d", records)
	}
}

func TestCourier_UnknownCategoryFallsBack(t *testing.T) {
	cfg := testConfig(t)
	snk := &captureSink{}
	c, src := newTestCourier(t, cfg, snk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	src.ch <- record(99, "nonexistent")
	time.Sleep(80 * time.Millisecond)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, records := snk.counts(); records != 1 {
		t.Errorf("expected rerouted record to be delivered, got %d", records)
	}
}
