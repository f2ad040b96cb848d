// Package metrics defines the Prometheus metrics for the jive server.
//
// All metrics are registered with the default registry and served on the
// HTTP transport's /metrics endpoint.
//
// Metric naming follows Prometheus conventions:
//   - jive_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ToolCallsTotal counts tool invocations by tool name and outcome.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_tool_calls_total",
			Help: "Total number of tool calls by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	// ToolDurationSeconds is a histogram of tool dispatch duration by tool.
	ToolDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jive_tool_duration_seconds",
			Help:    "Duration of tool calls in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	// RequestsTotal counts protocol requests by transport and method.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_requests_total",
			Help: "Total JSON-RPC requests by transport and method.",
		},
		[]string{"transport", "method"},
	)

	// StoreRetriesTotal counts retried store operations by tool.
	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_store_retries_total",
			Help: "Total retried store operations after transient failures.",
		},
		[]string{"tool"},
	)

	// EventsPublishedTotal counts bus events by type.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_events_published_total",
			Help: "Total events published on the internal bus.",
		},
		[]string{"type"},
	)

	// ActiveConnections is the number of open WebSocket connections.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jive_active_connections",
			Help: "Number of WebSocket connections currently open.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ToolCallsTotal,
		ToolDurationSeconds,
		RequestsTotal,
		StoreRetriesTotal,
		EventsPublishedTotal,
		ActiveConnections,
	)
}

// RecordToolCall records metrics for a completed tool call.
func RecordToolCall(tool, outcome string, duration time.Duration) {
	ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	ToolDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRequest records a single protocol request.
func RecordRequest(transport, method string) {
	RequestsTotal.WithLabelValues(transport, method).Inc()
}

// RecordStoreRetry records a single retried store operation.
func RecordStoreRetry(tool string) {
	StoreRetriesTotal.WithLabelValues(tool).Inc()
}

// RecordEventPublished records a single published bus event.
func RecordEventPublished(eventType string) {
	EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// ConnectionOpened increments the open-connection gauge.
func ConnectionOpened() {
	ActiveConnections.Inc()
}

// ConnectionClosed decrements the open-connection gauge.
func ConnectionClosed() {
	ActiveConnections.Dec()
}
