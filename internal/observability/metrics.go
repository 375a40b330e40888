package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vibesync_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// SessionsActive is the gauge of live viewer sessions by state.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vibesync_sessions_active",
		Help: "Number of viewer sessions by session state",
	}, []string{"state"})

	// SessionTransitions counts session state transitions.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_session_transitions_total",
		Help: "Total session state transitions",
	}, []string{"from", "to"})

	// ForcedSignOuts counts sign-outs initiated by the session itself.
	ForcedSignOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_forced_sign_outs_total",
		Help: "Total forced sign-outs by reason",
	}, []string{"reason"})

	// SubscriptionsOpen is the gauge of open store subscriptions.
	SubscriptionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vibesync_subscriptions_open",
		Help: "Number of open store subscriptions",
	})

	// SnapshotsDelivered counts snapshots applied by subscription name.
	SnapshotsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_snapshots_delivered_total",
		Help: "Total snapshots delivered to projectors",
	}, []string{"subscription"})

	// StaleDeliveriesDropped counts callbacks discarded because their
	// subscription or generation had ended.
	StaleDeliveriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_stale_deliveries_dropped_total",
		Help: "Total deliveries dropped for a cancelled subscription or stale generation",
	}, []string{"subscription"})

	// ProjectionLatency records how long a projection pass takes.
	ProjectionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vibesync_projection_latency_seconds",
		Help:    "Projection pass latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	}, []string{"projector"})

	// AlertsEmitted counts alerts produced for backgrounded sessions.
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_alerts_emitted_total",
		Help: "Total notification alerts by outcome",
	}, []string{"outcome"})

	// StoreWriteErrors counts failed store writes by operation.
	StoreWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_store_write_errors_total",
		Help: "Total failed store writes by operation",
	}, []string{"operation"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vibesync_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibesync_websocket_backpressure_drops_total",
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

// TrackProjection returns a function that records a projection pass when called.
func TrackProjection(projector string) func() {
	start := time.Now()
	return func() {
		ProjectionLatency.WithLabelValues(projector).Observe(time.Since(start).Seconds())
	}
}
