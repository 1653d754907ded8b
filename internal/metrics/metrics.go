// Package metrics provides Prometheus metrics for Alexander Storage.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the storage server.
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// Storage Metrics (pack-file engine reads/writes, keyed by chunk hash)
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageBytesTotal        *prometheus.CounterVec
	BlobsTotal               prometheus.Gauge
	BlobsSize                prometheus.Gauge

	// Cache Metrics (Redis-backed release-record lookups)
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Auth Metrics
	AuthAttemptsTotal *prometheus.CounterVec
	AuthFailuresTotal *prometheus.CounterVec

	// Pack Maintenance Metrics (RebuildPacks/RepairAll sweeps)
	PackRepairRunsTotal      prometheus.Counter
	PackRepairDuration       prometheus.Histogram
	PackRepairBytesReclaimed prometheus.Counter
	PackRepairLastRunTime    prometheus.Gauge

	// Rate Limiting Metrics
	RateLimitedRequests *prometheus.CounterVec
}

// namespace for all Alexander metrics
const namespace = "alexander"

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		// HTTP Metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed.",
			},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "HTTP response size in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8), // 100B to 10GB
			},
			[]string{"method", "path"},
		),

		// Storage Metrics
		StorageOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total number of storage operations.",
			},
			[]string{"operation", "status"},
		),
		StorageOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Storage operation duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		StorageBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "bytes_total",
				Help:      "Total bytes processed by storage operations.",
			},
			[]string{"operation"},
		),
		BlobsTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "blobs_total",
				Help:      "Total number of unique blobs in storage.",
			},
		),
		BlobsSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "blobs_size_bytes",
				Help:      "Total size of all blobs in bytes.",
			},
		),

		// Cache Metrics
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits.",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses.",
			},
			[]string{"cache"},
		),

		// Auth Metrics
		AuthAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Total number of authentication attempts.",
			},
			[]string{"method"},
		),
		AuthFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "failures_total",
				Help:      "Total number of authentication failures.",
			},
			[]string{"method", "reason"},
		),

		// Pack Maintenance Metrics (packstore.Engine.RepairAll sweeps)
		PackRepairRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pack_repair",
				Name:      "runs_total",
				Help:      "Total number of pack-file repair sweeps.",
			},
		),
		PackRepairDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pack_repair",
				Name:      "duration_seconds",
				Help:      "Pack-file repair sweep duration in seconds.",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
		),
		PackRepairBytesReclaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pack_repair",
				Name:      "bytes_reclaimed_total",
				Help:      "Total bytes dropped from truncated pack-file tails by repair sweeps.",
			},
		),
		PackRepairLastRunTime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pack_repair",
				Name:      "last_run_timestamp_seconds",
				Help:      "Timestamp of the last pack-file repair sweep.",
			},
		),

		// Rate Limiting Metrics
		RateLimitedRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "requests_total",
				Help:      "Total number of rate limited requests.",
			},
			[]string{"limit_type"},
		),
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64, size int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordStorageOperation records storage operation metrics.
func (m *Metrics) RecordStorageOperation(operation, status string, duration float64, bytes int64) {
	m.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.StorageBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordAuthAttempt records an authentication attempt.
func (m *Metrics) RecordAuthAttempt(method string, success bool, reason string) {
	m.AuthAttemptsTotal.WithLabelValues(method).Inc()
	if !success {
		m.AuthFailuresTotal.WithLabelValues(method, reason).Inc()
	}
}

// RecordCacheAccess records a cache access.
func (m *Metrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordPackRepair records one packstore.Engine.RepairAll sweep.
func (m *Metrics) RecordPackRepair(duration float64, bytesReclaimed int64, runAt time.Time) {
	m.PackRepairRunsTotal.Inc()
	m.PackRepairDuration.Observe(duration)
	m.PackRepairBytesReclaimed.Add(float64(bytesReclaimed))
	m.PackRepairLastRunTime.Set(float64(runAt.Unix()))
}

// RecordRateLimited records a rate limited request.
func (m *Metrics) RecordRateLimited(limitType string) {
	m.RateLimitedRequests.WithLabelValues(limitType).Inc()
}
