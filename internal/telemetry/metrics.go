// Package telemetry provides Prometheus metrics for the aggregation pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus instruments on a private registry.
// All observe methods are safe to call on a nil receiver so that components
// can treat metrics as optional.
type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	cacheEvents   *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline instruments
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_fetch_attempts_total",
			Help: "Terminal fetch outcomes per source",
		}, []string{"source", "outcome", "error_kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregator_fetch_duration_seconds",
			Help:    "Duration of fetch attempt sequences",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_runs_total",
			Help: "Aggregation runs by terminal status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aggregator_run_duration_seconds",
			Help:    "Duration of aggregation runs",
			Buckets: prometheus.DefBuckets,
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_cache_events_total",
			Help: "Cache events by tier",
		}, []string{"tier", "event"}),
	}

	registry.MustRegister(
		m.fetchAttempts,
		m.fetchDuration,
		m.runsTotal,
		m.runDuration,
		m.cacheEvents,
	)

	return m
}

// Handler returns the HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records a terminal fetch outcome
func (m *Metrics) ObserveFetch(source string, success bool, errorKind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.fetchAttempts.WithLabelValues(source, outcome, errorKind).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveRun records a completed aggregation run
func (m *Metrics) ObserveRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// ObserveCache records a cache event ("hit", "miss", "eviction", "expired")
func (m *Metrics) ObserveCache(tier, event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(tier, event).Inc()
}
