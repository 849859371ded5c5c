// Package metrics holds the Prometheus collectors exposed at /metrics.
//
// Import metrics:
//   - guidevault_imports_total{status}: finished import attempts
//   - guidevault_import_duration_seconds: wall time of one provider import
//   - guidevault_programs_processed_total{outcome}: imported or skipped programmes
//
// Maintenance metrics:
//   - guidevault_maintenance_deleted_total{pass}: rows removed by retention, fuzzy or exact dedup
//
// Scheduler metrics:
//   - guidevault_scheduler_runs_total{trigger,status}: scheduled and manual cycles
//   - guidevault_scheduler_next_run_timestamp_seconds: unix time of the next daily cycle
//
// Feed metrics:
//   - guidevault_feed_breaker_state{name}: 0 closed, 1 half-open, 2 open
//   - guidevault_feed_download_bytes_total: bytes written to scratch files
//
// Cache metrics:
//   - guidevault_cache_requests_total{result}: read cache hit, miss or error
//   - guidevault_lock_events_total{event}: import lock acquired, contended, lost or released
//
// HTTP metrics:
//   - guidevault_http_requests_total{method,route,status}
//   - guidevault_http_request_duration_seconds{method,route}
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidevault_imports_total",
			Help: "Provider import attempts by terminal status",
		},
		[]string{"status"},
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guidevault_import_duration_seconds",
			Help:    "Duration of a single provider import",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	ProgramsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidevault_programs_processed_total",
			Help: "Programme records processed by outcome",
		},
		[]string{"outcome"},
	)

	MaintenanceDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidevault_maintenance_deleted_total",
			Help: "Rows deleted by maintenance pass",
		},
		[]string{"pass"},
	)

	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidevault_scheduler_runs_total",
			Help: "Scheduler cycles by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	SchedulerNextRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guidevault_scheduler_next_run_timestamp_seconds",
			Help: "Unix time of the next scheduled import cycle",
		},
	)

	FeedBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guidevault_feed_breaker_state",
			Help: "Feed download circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	FeedDownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guidevault_feed_download_bytes_total",
			Help: "Bytes downloaded from XMLTV feeds",
		},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidevault_cache_requests_total",
			Help: "Read cache lookups by result",
		},
		[]string{"result"},
	)

	LockEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidevault_lock_events_total",
			Help: "Distributed import lock events",
		},
		[]string{"event"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidevault_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guidevault_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// RecordImport records one finished import attempt.
func RecordImport(status string, d time.Duration, imported, skipped int) {
	ImportsTotal.WithLabelValues(status).Inc()
	ImportDuration.Observe(d.Seconds())
	ProgramsProcessed.WithLabelValues("imported").Add(float64(imported))
	ProgramsProcessed.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordHTTPRequest records a served request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
