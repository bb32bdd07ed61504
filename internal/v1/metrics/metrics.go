package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the AirJam room broker.
//
// Naming convention: namespace_subsystem_name
// - namespace: airjam (application-level grouping)
// - subsystem: websocket, room, auth (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, controllers)
// - Counter: Cumulative events (events routed, key verifications)

var (
	// ActiveWebSocketConnections tracks the current number of open broker sockets (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "airjam",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "airjam",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomControllers tracks the number of admitted controllers per room.
	// Gauge rather than Histogram: we want the current count per room,
	// not a distribution of historical counts.
	RoomControllers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "airjam",
		Subsystem: "room",
		Name:      "controllers_count",
		Help:      "Number of controllers admitted to each room",
	}, []string{"room_code"})

	// Events tracks the total number of routed client events (CounterVec - cumulative)
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airjam",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total client events processed",
	}, []string{"event", "status"})

	// KeyVerifications tracks API-key verifier outcomes (CounterVec - cumulative)
	KeyVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airjam",
		Subsystem: "auth",
		Name:      "verifications_total",
		Help:      "Total API key verifications by mode and result",
	}, []string{"mode", "result"})

	// RateLimitExceeded tracks rejected WebSocket connects (CounterVec - cumulative)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airjam",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total connection attempts rejected by the rate limiter",
	}, []string{"limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
