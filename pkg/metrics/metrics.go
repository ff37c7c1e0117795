// Package metrics defines the Prometheus collectors used by the ingestion
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	PagesFetchedTotal    *prometheus.CounterVec
	RecordsFetchedTotal  *prometheus.CounterVec
	ThrottleRetriesTotal *prometheus.CounterVec
	ChunksTotal          *prometheus.CounterVec
	IngestionRunsTotal   *prometheus.CounterVec
	IngestionDuration    *prometheus.HistogramVec
	BatchesResolvedTotal *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg, letting tests use an
// isolated prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PagesFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_pages_fetched_total",
				Help: "Pages fetched from the store API by content type.",
			},
			[]string{"content_type"},
		),
		RecordsFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_records_fetched_total",
				Help: "Records fetched from the store API by content type.",
			},
			[]string{"content_type"},
		),
		ThrottleRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_throttle_retries_total",
				Help: "Page fetches retried after a throttling response.",
			},
			[]string{"content_type"},
		),
		ChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexing_chunks_total",
				Help: "Chunks sent to the indexing service by content type, operation (create, update), and result.",
			},
			[]string{"content_type", "operation", "result"},
		),
		IngestionRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_runs_total",
				Help: "Completed ingestion runs by content type and outcome.",
			},
			[]string{"content_type", "outcome"},
		),
		IngestionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingestion_run_duration_seconds",
				Help:    "Wall time of ingestion runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"content_type"},
		),
		BatchesResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_batches_resolved_total",
				Help: "Batches removed by the reconciliation sweep, by reason (completed, not_found).",
			},
			[]string{"reason"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconcile_sweep_duration_seconds",
				Help:    "Duration of a reconciliation sweep for one store.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PagesFetchedTotal,
		m.RecordsFetchedTotal,
		m.ThrottleRetriesTotal,
		m.ChunksTotal,
		m.IngestionRunsTotal,
		m.IngestionDuration,
		m.BatchesResolvedTotal,
		m.SweepDuration,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
