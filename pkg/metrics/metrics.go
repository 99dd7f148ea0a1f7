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
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// BusEventsTotal tracks push events consumed from the bus, per kind.
	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_total",
			Help: "Push events consumed from the event bus",
		},
		[]string{"org_id", "type"},
	)

	// BusEventsDropped tracks malformed or unroutable frames.
	BusEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_dropped_total",
			Help: "Push events dropped (malformed frame, unknown type, full queue)",
		},
		[]string{"org_id", "reason"},
	)

	// BusReconnects tracks transport reconnections.
	BusReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Event bus transport reconnections",
		},
	)

	// StoreMutations tracks conversation store mutations by operation.
	StoreMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_mutations_total",
			Help: "Conversation store mutations applied",
		},
		[]string{"op"},
	)

	// StoreDuplicatesTotal tracks inbound messages dropped by id dedupe.
	StoreDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_duplicate_messages_total",
			Help: "Inbound messages ignored because their id was already present",
		},
	)

	// UnreadTotal tracks the sum of unread counters across conversations.
	UnreadTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_unread_messages",
			Help: "Total unread messages across all conversations",
		},
	)

	// RuleEvaluations tracks rule condition evaluations by condition type.
	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Automation rule condition evaluations",
		},
		[]string{"condition", "matched"},
	)

	// RuleFirings tracks executed rule actions.
	RuleFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_firings_total",
			Help: "Automation rule actions executed",
		},
		[]string{"action", "status"},
	)

	// AgentReplies tracks auto-responder completions.
	AgentReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_replies_total",
			Help: "AI agent auto-replies generated",
		},
		[]string{"model", "status"},
	)

	// SSEConnectionsActive tracks active SSE change-feed connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// PresenceRecords tracks live presence records by state.
	PresenceRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "presence_records",
			Help: "Live presence records",
		},
		[]string{"state"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBusEvent records a consumed push event.
func RecordBusEvent(orgID, eventType string) {
	BusEventsTotal.WithLabelValues(orgID, eventType).Inc()
}

// RecordBusDrop records a dropped frame.
func RecordBusDrop(orgID, reason string) {
	BusEventsDropped.WithLabelValues(orgID, reason).Inc()
}

// RecordRuleFiring records an executed rule action.
func RecordRuleFiring(action, status string) {
	RuleFirings.WithLabelValues(action, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
