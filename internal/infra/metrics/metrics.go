package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsIngested tracks records accepted from the source per category
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_records_ingested_total",
			Help: "Total number of records accepted from the source",
		},
		[]string{"category"},
	)

	// RecordsDeduplicated tracks records skipped because their ID was already seen
	RecordsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_records_deduplicated_total",
			Help: "Total number of records skipped by the dedup store",
		},
	)

	// BatchesDispatched tracks batches the sink accepted
	BatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_batches_dispatched_total",
			Help: "Total number of batches successfully written to the sink",
		},
		[]string{"category"},
	)

	// BatchesFailed tracks batches the sink permanently rejected
	BatchesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_batches_failed_total",
			Help: "Total number of batches handed to the failure sink",
		},
		[]string{"category"},
	)

	// BatchesRequeued tracks batches pushed back because the breaker was open
	BatchesRequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_batches_requeued_total",
			Help: "Total number of batches requeued due to an open circuit breaker",
		},
		[]string{"category"},
	)

	// QueueDepth tracks current per-category queue length
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Current number of records pending per category",
		},
		[]string{"category"},
	)

	// BreakerOpen reports 1 when a category's breaker is open
	BreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_breaker_open",
			Help: "1 when the category's circuit breaker is open, 0 otherwise",
		},
		[]string{"category"},
	)

	// DedupStoreSize tracks the number of IDs in the dedup store
	DedupStoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_dedup_store_size",
			Help: "Number of record IDs held by the dedup store",
		},
	)

	// SinkWriteLatency tracks sink write latency including retries
	SinkWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_sink_write_latency_seconds",
			Help:    "Sink write latency in seconds, including the sink's own retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	// MemoryUsage tracks the last sampled resident memory
	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_memory_usage_bytes",
			Help: "Resident memory of the process as last sampled by the memory guard",
		},
	)
)
