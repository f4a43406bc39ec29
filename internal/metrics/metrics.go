// Package metrics provides Prometheus metrics for metacat
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for metacat
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Resolution metrics
	ResolutionsTotal     *prometheus.CounterVec
	FieldsResolvedTotal  prometheus.Counter
	FieldsAbsentTotal    prometheus.Counter
	CoercionErrorsTotal  *prometheus.CounterVec
	ResolutionDuration   prometheus.Histogram

	// Catalog metrics
	CatalogOperationsTotal   *prometheus.CounterVec
	CatalogOperationDuration *prometheus.HistogramVec
	CatalogTypesTotal        prometheus.Gauge
	CatalogDatasetsTotal     prometheus.Gauge
	CatalogSizeBytes         prometheus.Gauge

	// Query metrics
	QueriesTotal      prometheus.Counter
	QueryResultsTotal prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metacat_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metacat_http_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metacat_http_requests_in_flight",
			Help: "Number of API requests currently being processed",
		},
	)

	m.ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metacat_resolutions_total",
			Help: "Total number of dataset document resolutions",
		},
		[]string{"type"},
	)

	m.FieldsResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metacat_fields_resolved_total",
			Help: "Total number of search fields resolved to a value",
		},
	)

	m.FieldsAbsentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metacat_fields_absent_total",
			Help: "Total number of search fields absent from their document",
		},
	)

	m.CoercionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metacat_coercion_errors_total",
			Help: "Total number of field values failing declared-kind coercion",
		},
		[]string{"type", "field"},
	)

	m.ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metacat_resolution_duration_seconds",
			Help:    "Duration of full document resolutions in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	m.CatalogOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metacat_catalog_operations_total",
			Help: "Total number of catalog operations",
		},
		[]string{"operation", "status"},
	)

	m.CatalogOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metacat_catalog_operation_duration_seconds",
			Help:    "Duration of catalog operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	m.CatalogTypesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metacat_catalog_types_total",
			Help: "Number of registered metadata types",
		},
	)

	m.CatalogDatasetsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metacat_catalog_datasets_total",
			Help: "Number of indexed dataset records",
		},
	)

	m.CatalogSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metacat_catalog_size_bytes",
			Help: "Current catalog database size in bytes",
		},
	)

	m.QueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metacat_queries_total",
			Help: "Total number of dataset search queries",
		},
	)

	m.QueryResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metacat_query_results_total",
			Help: "Total number of dataset records returned by queries",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metacat_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordHTTPRequest records an API request with its status
func (m *Metrics) RecordHTTPRequest(route string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCatalogOperation records a catalog operation
func (m *Metrics) RecordCatalogOperation(operation string, status string, duration time.Duration) {
	m.CatalogOperationsTotal.WithLabelValues(operation, status).Inc()
	m.CatalogOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResolution records one full document resolution
func (m *Metrics) RecordResolution(typeName string, resolved, absent int, duration time.Duration) {
	m.ResolutionsTotal.WithLabelValues(typeName).Inc()
	m.FieldsResolvedTotal.Add(float64(resolved))
	m.FieldsAbsentTotal.Add(float64(absent))
	m.ResolutionDuration.Observe(duration.Seconds())
}

// UpdateCatalogStats updates catalog gauges
func (m *Metrics) UpdateCatalogStats(types, datasets int, sizeBytes int64) {
	m.CatalogTypesTotal.Set(float64(types))
	m.CatalogDatasetsTotal.Set(float64(datasets))
	m.CatalogSizeBytes.Set(float64(sizeBytes))
}
