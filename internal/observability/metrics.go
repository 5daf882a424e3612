package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swarg_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// MessagesPersisted counts stored messages by type and receiver kind.
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarg_messages_persisted_total",
		Help: "Total number of messages persisted",
	}, []string{"message_type", "receiver_kind"})

	// StatusTransitions counts forward status changes applied by the store.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarg_message_status_transitions_total",
		Help: "Total number of message status transitions",
	}, []string{"status"})

	// FanoutPushes counts per-session pushes by outcome (ok, failed).
	FanoutPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarg_fanout_pushes_total",
		Help: "Total number of per-session pushes attempted by the delivery router",
	}, []string{"outcome"})

	// FanoutRecipients counts recipients by routing state (delivered, undelivered).
	FanoutRecipients = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarg_fanout_recipients_total",
		Help: "Total number of message recipients by delivery state",
	}, []string{"state"})

	// RouteLatency observes the duration of a full fan-out.
	RouteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarg_route_latency_seconds",
		Help:    "Latency of routing one message to all live sessions",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
	})

	// RelayMessages counts cross-node relay publishes and receipts.
	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarg_relay_messages_total",
		Help: "Total number of cross-node relay envelopes by direction",
	}, []string{"direction"})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarg_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarg_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
