// Package metrics provides Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	// MessagesTotal counts processed messages by terminal status.
	MessagesTotal *prometheus.CounterVec

	// IntakeRejectedTotal counts messages dropped at intake.
	IntakeRejectedTotal prometheus.Counter

	// DeadLetterTotal counts records routed to the dead-letter sink.
	DeadLetterTotal prometheus.Counter

	// StoreRetriesTotal counts transient store write failures that were retried.
	StoreRetriesTotal prometheus.Counter

	// PutDuration observes store write latency including retries.
	PutDuration prometheus.Histogram

	// QueryDuration observes query execution latency.
	QueryDuration prometheus.Histogram

	// CatalogRefreshesTotal counts catalog refreshes by outcome.
	CatalogRefreshesTotal *prometheus.CounterVec

	// CatalogVersion exposes the current catalog version.
	CatalogVersion prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetra_messages_total",
			Help: "Messages processed by the pipeline, labeled by record status.",
		}, []string{"status"}),
		IntakeRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetra_intake_rejected_total",
			Help: "Messages rejected at intake before validation.",
		}),
		DeadLetterTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetra_deadletter_total",
			Help: "Records routed to the dead-letter sink.",
		}),
		StoreRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetra_store_retries_total",
			Help: "Transient store write failures that triggered a retry.",
		}),
		PutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetra_store_put_duration_seconds",
			Help:    "Store write latency including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetra_query_duration_seconds",
			Help:    "Query execution latency.",
			Buckets: prometheus.DefBuckets,
		}),
		CatalogRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetra_catalog_refreshes_total",
			Help: "Catalog refresh attempts, labeled by outcome.",
		}, []string{"outcome"}),
		CatalogVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetra_catalog_version",
			Help: "Version of the catalog entry currently serving queries.",
		}),
	}

	registry.MustRegister(
		m.MessagesTotal,
		m.IntakeRejectedTotal,
		m.DeadLetterTotal,
		m.StoreRetriesTotal,
		m.PutDuration,
		m.QueryDuration,
		m.CatalogRefreshesTotal,
		m.CatalogVersion,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
