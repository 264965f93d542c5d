// Package metrics defines the Prometheus instrumentation for event ingestion.
//
// All collectors are registered with the default registry through promauto
// and exposed by the status server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poller metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_events_published_total",
			Help: "Unique authentication events forwarded to the router",
		},
		[]string{"terminal"},
	)

	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_duplicates_skipped_total",
			Help: "Event records dropped because their identity was already forwarded",
		},
		[]string{"terminal"},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_poll_errors_total",
			Help: "Failed poll cycles by error kind",
		},
		[]string{"terminal", "kind"}, // "unreachable", "auth", "protocol"
	)

	WindowResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_window_resets_total",
			Help: "Poll window resets that abandoned unacknowledged backlog",
		},
		[]string{"terminal", "reason"}, // "errors", "watchdog"
	)

	ConsecutiveErrors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turnstile_consecutive_errors",
			Help: "Current consecutive failed poll cycles per terminal",
		},
		[]string{"terminal"},
	)

	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turnstile_last_success_timestamp_seconds",
			Help: "Unix time of the last successful poll cycle",
		},
		[]string{"terminal"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnstile_poll_cycle_duration_seconds",
			Help:    "Duration of a full paginated poll cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"terminal"},
	)

	// Router metrics
	ConsumerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_consumer_failures_total",
			Help: "Event deliveries a consumer failed or panicked on",
		},
		[]string{"consumer"},
	)

	ConsumerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnstile_consumer_duration_seconds",
			Help:    "Time a consumer spent handling one event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)

	// Sink circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turnstile_circuit_breaker_state",
			Help: "Sink circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_circuit_breaker_transitions_total",
			Help: "Sink circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
