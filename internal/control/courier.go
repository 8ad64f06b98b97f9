// Package control wires the pipeline components together and manages
// their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/config"
	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/infra/health"
	"github.com/vietddude/courier/internal/infra/metrics"
	redisclient "github.com/vietddude/courier/internal/infra/redis"
	"github.com/vietddude/courier/internal/infra/storage/postgres"
	"github.com/vietddude/courier/internal/pipeline/dispatch"
	"github.com/vietddude/courier/internal/pipeline/failsink"
	"github.com/vietddude/courier/internal/pipeline/memguard"
	"github.com/vietddude/courier/internal/sink"
	"github.com/vietddude/courier/internal/store/dedup"
)

// Source yields records from an upstream producer.
type Source interface {
	Next(ctx context.Context) (domain.Record, bool, error)
}

// Courier is the main application struct that manages the delivery
// pipeline lifecycle.
type Courier struct {
	cfg          *config.AppConfig
	store        *dedup.Store
	failures     *failsink.FailSink
	dispatcher   *dispatch.Dispatcher
	guard        *memguard.Guard
	source       Source
	redisClient  *redisclient.Client
	snk          sink.Sink
	healthServer *health.Server
	log          *slog.Logger

	defaultCategory domain.Category

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Courier instance with all dependencies initialized.
func New(cfg *config.AppConfig) (*Courier, error) {
	store, err := dedup.New(dedup.Config{
		Path:          cfg.Store.Path,
		BackupDir:     cfg.Store.BackupDir,
		SaveInterval:  cfg.Store.SaveInterval,
		MaxBackups:    cfg.Store.MaxBackups,
		EncryptionKey: cfg.Store.EncryptionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init dedup store: %w", err)
	}

	var base sink.Sink
	switch cfg.Sink.Type {
	case "postgres":
		db, err := postgres.NewDB(context.Background(), cfg.Sink.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		migrationsDir := cfg.Sink.Postgres.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		if err := db.Migrate(migrationsDir); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		base = postgres.NewSink(db)
		slog.Info("Using PostgreSQL sink")
	case "log":
		base = sink.NewLogSink()
		slog.Info("Using log sink")
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}

	retrying := sink.NewRetrying(base, cfg.Sink.Retry.MaxAttempts, cfg.Sink.Retry.InitialDelay)

	c := assemble(cfg, store, retrying)

	redisClient, err := redisclient.NewClient(cfg.Source.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect source: %w", err)
	}
	c.redisClient = redisClient
	c.source = redisclient.NewSource(redisClient, cfg.Source.Key, cfg.Source.PollInterval)

	return c, nil
}

// assemble builds the pipeline around an already-constructed store and
// sink. Split out so tests can inject stubs without touching the network.
func assemble(cfg *config.AppConfig, store *dedup.Store, snk sink.Sink) *Courier {
	failures := failsink.New()

	categories := make([]domain.Category, 0, len(cfg.Pipeline.Categories))
	for _, name := range cfg.Pipeline.Categories {
		categories = append(categories, domain.Category(name))
	}

	dispatcher := dispatch.New(dispatch.Config{
		Categories:       categories,
		MaxQueueSize:     cfg.Pipeline.MaxQueueSize,
		MaxBatchSize:     cfg.Pipeline.MaxBatchSize,
		ProcessInterval:  cfg.Pipeline.ProcessInterval,
		CategoryPause:    cfg.Pipeline.CategoryPause,
		BreakerThreshold: cfg.Pipeline.BreakerThreshold,
		BreakerTimeout:   cfg.Pipeline.BreakerTimeout,
	}, snk, failures)

	guard := memguard.New(cfg.Memory.LimitMB, cfg.Memory.CheckInterval, dispatcher)

	monitor := health.NewMonitor(dispatcher, store, failures)
	healthServer := health.NewServer(monitor, cfg.Server.Port)

	return &Courier{
		cfg:             cfg,
		store:           store,
		failures:        failures,
		dispatcher:      dispatcher,
		guard:           guard,
		snk:             snk,
		healthServer:    healthServer,
		log:             slog.Default(),
		defaultCategory: categories[0],
	}
}

// Start loads persisted state and starts all background loops. It
// returns once everything is running; the loops stop when Stop is
// called or the given context is cancelled.
func (c *Courier) Start(ctx context.Context) error {
	if err := c.store.Load(); err != nil {
		return fmt.Errorf("failed to load dedup store: %w", err)
	}
	c.log.Info("Dedup store loaded", "ids", c.store.Len())

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		if err := c.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("Health server failed", "error", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.dispatcher.Run(runCtx); err != nil {
			c.log.Error("Dispatcher failed", "error", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.guard.Run(runCtx)
	}()

	if c.source != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runIngest(runCtx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runStoreSaver(runCtx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runMetricsUpdater(runCtx)
	}()

	return nil
}

// Stop drains the pipeline and persists remaining state: one final
// forced dispatch cycle, a forced store save, and a dump of everything
// the failure sink collected.
func (c *Courier) Stop(ctx context.Context) error {
	c.log.Info("Stopping Courier...")

	if c.cancel != nil {
		c.cancel()
	}
	c.dispatcher.Stop()
	c.wg.Wait()

	// Final drain while the sink is still alive.
	c.dispatcher.RunCycle(ctx, true)

	if err := c.store.Save(true); err != nil {
		c.log.Error("Final store save failed", "error", err)
	}

	if err := c.failures.Flush(c.cfg.FailuresDir); err != nil {
		c.log.Error("Failed to dump failure sink", "error", err)
	}

	if err := c.snk.Close(); err != nil {
		c.log.Warn("Failed to close sink", "error", err)
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("Failed to close Redis", "error", err)
		}
	}

	stats := c.dispatcher.Stats()
	c.log.Info("Courier stopped",
		"records_delivered", stats.RecordsDelivered,
		"batches_delivered", stats.BatchesDelivered,
		"batches_failed", stats.BatchesFailed,
		"batches_requeued", stats.BatchesRequeued,
		"store_size", c.store.Len(),
	)

	return c.healthServer.Stop(ctx)
}

// runIngest pulls records from the source, drops duplicates, and routes
// the rest into the per-category queues. Records carrying a category
// outside the configured set fall back to the first configured one.
func (c *Courier) runIngest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, found, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("Source read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.Source.PollInterval):
			}
			continue
		}
		if !found {
			continue
		}

		if c.store.Seen(rec.ID) {
			metrics.RecordsDeduplicated.Inc()
			continue
		}

		if err := c.dispatcher.Enqueue(rec); err != nil {
			c.log.Warn("Unknown category, routing to default",
				"id", rec.ID, "category", rec.Category, "default", c.defaultCategory)
			rec.Category = c.defaultCategory
			if err := c.dispatcher.Enqueue(rec); err != nil {
				c.log.Error("Failed to enqueue record", "id", rec.ID, "error", err)
				continue
			}
		}

		c.store.Add(rec.ID)
		metrics.RecordsIngested.WithLabelValues(string(rec.Category)).Inc()
	}
}

// runStoreSaver persists the dedup store periodically. Save applies its
// own rate limit, so an extra tick is harmless.
func (c *Courier) runStoreSaver(ctx context.Context) {
	interval := c.cfg.Store.SaveInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.store.Save(false); err != nil {
				c.log.Error("Periodic store save failed", "error", err)
			}
		}
	}
}

func (c *Courier) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cat := range c.dispatcher.Categories() {
				metrics.QueueDepth.WithLabelValues(string(cat)).Set(float64(c.dispatcher.QueueDepth(cat)))
			}
			metrics.DedupStoreSize.Set(float64(c.store.Len()))
			metrics.MemoryUsage.Set(float64(c.guard.LastSample()))
		}
	}
}
