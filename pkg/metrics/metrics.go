// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ReconcileOps counts reconcile passes by input source and outcome.
	ReconcileOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_reconcile_ops_total",
			Help: "Reconcile passes applied to the canonical thread state",
		},
		[]string{"source", "outcome"},
	)

	// DuplicatesMerged counts records collapsed by the dedupe rule.
	DuplicatesMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_duplicates_merged_total",
			Help: "Duplicate records collapsed during merge",
		},
	)

	// EventsDropped counts change-feed events discarded before dispatch.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_dropped_total",
			Help: "Change notifications dropped before handler dispatch",
		},
		[]string{"kind", "reason"},
	)

	// SubscriptionsActive tracks open change-feed subscriptions.
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_subscriptions_active",
			Help: "Open change notification subscriptions",
		},
	)

	// BroadcastsPublished counts ephemeral stream updates published.
	BroadcastsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_broadcasts_published_total",
			Help: "Ephemeral streaming updates published",
		},
	)

	// BroadcastsReceived counts broadcasts received, by disposition.
	BroadcastsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_broadcasts_received_total",
			Help: "Ephemeral streaming updates received",
		},
		[]string{"disposition"},
	)

	// StreamsActive tracks generations currently streaming in this session.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_streams_active",
			Help: "Generations currently streaming from this session",
		},
	)

	// SSEConnectionsActive tracks active SSE connections to the daemon.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// LLMStreamDuration tracks generation duration end to end.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordReconcile records one reconcile pass.
func RecordReconcile(source string, changed bool) {
	outcome := "noop"
	if changed {
		outcome = "changed"
	}
	ReconcileOps.WithLabelValues(source, outcome).Inc()
}

// RecordDroppedEvent records a change notification discarded before dispatch.
func RecordDroppedEvent(kind, reason string) {
	EventsDropped.WithLabelValues(kind, reason).Inc()
}

// RecordLLMStream records one completed or failed generation.
func RecordLLMStream(model, status string, duration float64) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
