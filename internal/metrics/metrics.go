// Package metrics registers and exposes the Prometheus instrumentation for
// the HTTP surface, the aggregate cache and the task queue.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   prometheus.CounterVec
	HTTPRequestDuration prometheus.HistogramVec
	HTTPActiveRequests  prometheus.GaugeVec

	// Aggregate cache metrics
	CacheHitsTotal     prometheus.CounterVec
	CacheMissesTotal   prometheus.CounterVec
	CacheRebuildsTotal prometheus.CounterVec

	// Task queue metrics
	TasksEnqueuedTotal   prometheus.CounterVec
	TasksCompletedTotal  prometheus.CounterVec
	TasksFailedTotal     prometheus.CounterVec
	TaskDuration         prometheus.HistogramVec
	QueueDepth           prometheus.GaugeVec
	DeadLetteredTotal    prometheus.CounterVec
	LeaseReclaimedTotal  prometheus.Counter
	FeedAssemblyDuration prometheus.Histogram

	// Error metrics
	ErrorsTotal prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "path", "status"},
			),
			HTTPActiveRequests: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "http_active_requests",
					Help: "Number of requests currently in flight",
				},
				[]string{"method", "path"},
			),

			CacheHitsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aggregate_cache_hits_total",
					Help: "Aggregate cache reads served from the cache",
				},
				[]string{"aggregate"},
			),
			CacheMissesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aggregate_cache_misses_total",
					Help: "Aggregate cache reads that fell through to the database",
				},
				[]string{"aggregate"},
			),
			CacheRebuildsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aggregate_cache_rebuilds_total",
					Help: "Aggregate values recomputed from the database",
				},
				[]string{"aggregate"},
			),

			TasksEnqueuedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queue_tasks_enqueued_total",
					Help: "Tasks handed to the dispatcher",
				},
				[]string{"type"},
			),
			TasksCompletedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queue_tasks_completed_total",
					Help: "Tasks acknowledged after successful execution",
				},
				[]string{"type"},
			),
			TasksFailedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queue_tasks_failed_total",
					Help: "Task attempts that returned an error",
				},
				[]string{"type"},
			),
			TaskDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "queue_task_duration_seconds",
					Help:    "Task execution time in seconds",
					Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
				},
				[]string{"type"},
			),
			QueueDepth: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_depth",
					Help: "Tasks currently waiting per queue state",
				},
				[]string{"state"},
			),
			DeadLetteredTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queue_dead_lettered_total",
					Help: "Tasks moved to the dead-letter list",
				},
				[]string{"type"},
			),
			LeaseReclaimedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "queue_lease_reclaimed_total",
					Help: "Tasks returned to pending after their lease expired",
				},
			),
			FeedAssemblyDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "feed_assembly_duration_seconds",
					Help:    "Time to assemble one feed page",
					Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
				},
			),

			ErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "errors_total",
					Help: "Application errors by component and code",
				},
				[]string{"component", "code"},
			),
		}
	})
	return instance
}

// Get returns the metrics instance, initializing on first use
func Get() *Metrics {
	return Initialize()
}
