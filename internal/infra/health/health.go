// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// CategoryHealth contains health metrics for a single delivery category.
type CategoryHealth struct {
	Category     string       `json:"category"`
	Status       SystemStatus `json:"status"`
	QueueDepth   int          `json:"queue_depth"`
	BreakerState string       `json:"breaker_state"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Categories   map[string]CategoryHealth `json:"categories"`
	StoreSize    int                       `json:"store_size"`
	FailedCount  int                       `json:"failed_batches"`
}
