package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds the approval center's service-level Prometheus metrics.
// Uses a custom registry with no global state. Packages with their own metrics
// (audit, escalation, notification) register on the same Registry.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Listing metrics.
	QueryRequestsTotal *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	QueryItemsReturned *prometheus.HistogramVec

	// Decision metrics.
	DecisionsTotal *prometheus.CounterVec

	// Bulk approve metrics.
	BulkItemsTotal *prometheus.CounterVec
	BulkDuration   prometheus.Histogram

	// HTTP API metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		QueryRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total approval listing requests.",
		}, []string{"type", "status"}),

		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "approvalcenter",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Approval listing duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"type"}),

		QueryItemsReturned: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "approvalcenter",
			Subsystem: "query",
			Name:      "items_returned",
			Help:      "Items returned per listing, by approval type.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}, []string{"type"}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "decision",
			Name:      "total",
			Help:      "Single-item approve, reject, and cancel calls.",
		}, []string{"action", "result"}),

		BulkItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Bulk approve items by outcome.",
		}, []string{"result"}),

		BulkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "approvalcenter",
			Subsystem: "bulk",
			Name:      "duration_seconds",
			Help:      "Bulk approve duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "approvalcenter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "approvalcenter",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.QueryRequestsTotal,
		m.QueryDuration,
		m.QueryItemsReturned,
		m.DecisionsTotal,
		m.BulkItemsTotal,
		m.BulkDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
