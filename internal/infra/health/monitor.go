package health

import (
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/pipeline/breaker"
)

// PipelineView is the dispatcher surface the monitor reads.
type PipelineView interface {
	Categories() []domain.Category
	QueueDepth(domain.Category) int
	BreakerState(domain.Category) breaker.State
}

// StoreView reports the dedup store size.
type StoreView interface {
	Len() int
}

// FailureView reports how many records sit in the failure sink.
type FailureView interface {
	TotalRecords() int
}

// Monitor aggregates health status from the pipeline components.
type Monitor struct {
	pipeline PipelineView
	store    StoreView
	failures FailureView

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a new health monitor.
func NewMonitor(pipeline PipelineView, store StoreView, failures FailureView) *Monitor {
	return &Monitor{
		pipeline: pipeline,
		store:    store,
		failures: failures,
	}
}

// CheckHealth builds a fresh health report. Results are cached briefly
// so a probe storm does not hammer the pipeline locks.
func (m *Monitor) CheckHealth() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 5*time.Second && m.lastReport.Categories != nil {
		return m.lastReport
	}

	report := Report{
		SystemStatus: StatusHealthy,
		Categories:   make(map[string]CategoryHealth),
		StoreSize:    m.store.Len(),
		FailedCount:  m.failures.TotalRecords(),
	}

	openCount := 0
	for _, c := range m.pipeline.Categories() {
		state := m.pipeline.BreakerState(c)
		ch := CategoryHealth{
			Category:     string(c),
			Status:       StatusHealthy,
			QueueDepth:   m.pipeline.QueueDepth(c),
			BreakerState: string(state),
		}
		if state != breaker.StateClosed {
			ch.Status = StatusDegraded
			openCount++
		}
		report.Categories[string(c)] = ch
	}

	// Worst case wins: some breakers open is degraded, all open is critical.
	if openCount > 0 {
		report.SystemStatus = StatusDegraded
	}
	if openCount > 0 && openCount == len(report.Categories) {
		report.SystemStatus = StatusCritical
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
