package memguard

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/infra/metrics"
)

// Flusher receives the escalation signal when memory stays above the
// limit even after a collection pass.
type Flusher interface {
	RequestFlush()
}

// Guard samples process memory at a bounded rate. Over the limit it
// requests a garbage collection pass, re-samples to log the effect, and
// escalates to a forced dispatch flush if still over.
type Guard struct {
	limitBytes uint64
	interval   time.Duration
	flusher    Flusher

	mu         sync.Mutex
	lastCheck  time.Time
	lastSample uint64

	log     *slog.Logger
	now     func() time.Time
	readMem func() uint64
	freeMem func()
}

// New creates a guard with the given limit in megabytes.
func New(limitMB int, interval time.Duration, flusher Flusher) *Guard {
	return &Guard{
		limitBytes: uint64(limitMB) * 1024 * 1024,
		interval:   interval,
		flusher:    flusher,
		log:        slog.Default().With("component", "memguard"),
		now:        time.Now,
		readMem:    readProcessMemory,
		freeMem:    debug.FreeOSMemory,
	}
}

// readProcessMemory returns the memory the Go runtime has obtained
// from the OS, the closest portable stand-in for resident set size.
func readProcessMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}

// Check samples memory if the check interval has elapsed; earlier
// calls are skipped. Returns the last sample in bytes.
func (g *Guard) Check() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.now().Sub(g.lastCheck) < g.interval {
		return g.lastSample
	}
	g.lastCheck = g.now()

	usage := g.readMem()
	g.lastSample = usage
	metrics.MemoryUsage.Set(float64(usage))
	g.log.Debug("Memory sampled", "bytes", usage)

	if usage <= g.limitBytes {
		return usage
	}

	g.log.Warn("Memory over limit, forcing collection",
		"usage_mb", usage/(1024*1024), "limit_mb", g.limitBytes/(1024*1024))
	g.freeMem()

	usage = g.readMem()
	g.lastSample = usage
	metrics.MemoryUsage.Set(float64(usage))
	g.log.Info("Memory after collection", "usage_mb", usage/(1024*1024))

	if usage > g.limitBytes && g.flusher != nil {
		g.log.Warn("Memory still over limit, requesting forced flush")
		g.flusher.RequestFlush()
	}
	return usage
}

// LastSample returns the most recent memory sample in bytes.
func (g *Guard) LastSample() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSample
}

// Run checks memory periodically until the context is cancelled.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check()
		}
	}
}
