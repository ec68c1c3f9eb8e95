// Package metrics exposes Prometheus counters and gauges for the
// balancer's own health: connected monoliths and clients, loaded rooms,
// dispatcher throughput, and proxy behavior (§4.7 -- metrics exposure is
// in scope; tracing/metrics plumbing to an external collector is not).
//
// Naming convention: namespace_subsystem_name.
//   - namespace: balancer (application-level grouping)
//   - subsystem: client, monolith, room, dispatcher, ws, proxy,
//     rate_limit, circuit_breaker, selection (feature-level grouping)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveClients tracks the current number of connected client sessions.
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "balancer",
		Subsystem: "client",
		Name:      "connections_active",
		Help:      "Current number of active client WebSocket connections",
	})

	// ActiveMonoliths tracks the current number of connected upstream monoliths.
	ActiveMonoliths = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "balancer",
		Subsystem: "monolith",
		Name:      "connections_active",
		Help:      "Current number of active monolith upstream connections",
	})

	// ActiveRooms tracks the current number of rooms loaded anywhere.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "balancer",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms loaded across all monoliths",
	})

	// RoomUserCount tracks the number of clients in each room, labeled by
	// room name, mirroring the monolith's own per-room count.
	RoomUserCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "balancer",
		Subsystem: "room",
		Name:      "user_count",
		Help:      "Number of clients currently routed to each room",
	}, []string{"room"})

	// DispatcherEvents tracks events processed by the dispatcher's
	// admission and message channels.
	DispatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balancer",
		Subsystem: "dispatcher",
		Name:      "events_total",
		Help:      "Total events processed by the dispatcher, by kind and outcome",
	}, []string{"kind", "status"})

	// WebSocketFrames tracks WS frames crossing the balancer in either
	// direction, labeled by the connection kind and direction (§4.7).
	WebSocketFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balancer",
		Subsystem: "ws",
		Name:      "frames_total",
		Help:      "Total WebSocket frames relayed, by connection kind and direction",
	}, []string{"kind", "direction"})

	// ProxyRequestDuration tracks HTTP reverse proxy latency to monoliths.
	ProxyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "balancer",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Time spent proxying an HTTP request to a monolith",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	// CircuitBreakerState tracks the current state of the proxy circuit
	// breaker. 0: Closed (healthy), 1: Open (failing), 2: Half-Open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "balancer",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the proxy circuit breaker per monolith (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"monolith"})

	// CircuitBreakerRejections tracks requests rejected by an open breaker.
	CircuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balancer",
		Subsystem: "circuit_breaker",
		Name:      "rejections_total",
		Help:      "Total proxy requests rejected by an open circuit breaker",
	}, []string{"monolith"})

	// RateLimitExceeded tracks requests that exceeded a rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balancer",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded a rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks requests checked against a rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balancer",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// SelectionDuration tracks how long a selection policy takes to pick
	// a monolith for an unrouted room.
	SelectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "balancer",
		Subsystem: "selection",
		Name:      "duration_seconds",
		Help:      "Time spent selecting a monolith for a new room",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
	}, []string{"strategy"})
)

func IncClientConnection() { ActiveClients.Inc() }
func DecClientConnection() { ActiveClients.Dec() }

func IncMonolithConnection() { ActiveMonoliths.Inc() }
func DecMonolithConnection() { ActiveMonoliths.Dec() }
