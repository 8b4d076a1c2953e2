// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raggate_request_duration_seconds",
			Help:    "Total time taken for requests in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60, 120, 300},
		},
		[]string{"model", "provider"},
	)

	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raggate_time_to_first_token_seconds",
			Help:    "Time to first token in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
		},
		[]string{"model", "provider"},
	)

	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raggate_retrieval_duration_seconds",
			Help:    "Time spent embedding the query and searching the knowledge store",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	RetrievedChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raggate_retrieved_chunks",
			Help:    "Chunks returned per retrieval after thresholding",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	RetrievalDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raggate_retrieval_degraded_total",
			Help: "Requests that proceeded without context because the knowledge store was unreachable",
		},
	)

	DroppedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raggate_dropped_chunks_total",
			Help: "Chunks dropped by the composer to fit the context budget",
		},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raggate_provider_retries_total",
			Help: "Backend calls retried after a transient failure",
		},
		[]string{"provider"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raggate_error_count",
			Help: "Error count by failure condition",
		},
		[]string{"model", "provider", "condition"},
	)

	InflightConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raggate_inflight_backend_connections",
			Help: "Backend connections currently held per provider",
		},
		[]string{"provider"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raggate_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
