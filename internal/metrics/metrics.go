// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExtractionTotal counts geo extractions by media kind and outcome
	// (located, unlocated, unsupported).
	ExtractionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mira_extraction_total",
			Help: "Geo metadata extractions by media kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mira_extraction_duration_seconds",
			Help:    "Time spent extracting geo metadata from one file",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// GeocoderRequests counts geocoding lookups by operation and outcome
	// (hit, empty, error, cached, skipped).
	GeocoderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mira_geocoder_requests_total",
			Help: "Geocoding lookups by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	GeocoderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mira_geocoder_request_duration_seconds",
			Help:    "Latency of upstream geocoding requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mira_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mira_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mira_ingest_batch_files",
			Help:    "Number of files per ingested batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	AssetsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mira_assets_ingested_total",
			Help: "Assets created by ingestion, by kind and GPS presence",
		},
		[]string{"kind", "gps"},
	)

	ReconcileTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mira_reconcile_transitions_total",
			Help: "Address state transitions applied by reconciliation",
		},
		[]string{"from", "to"},
	)

	SuggestSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mira_suggest_superseded_total",
			Help: "Address suggestion queries discarded because a newer query arrived",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mira_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mira_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
