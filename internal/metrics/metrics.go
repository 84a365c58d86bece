package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal tracks terminal delivery outcomes per channel.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of notification delivery outcomes",
		},
		[]string{"channel", "status"},
	)

	// DeliveryDuration tracks end-to-end Deliver() latency per channel.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Notification delivery latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel", "status"},
	)

	// RetriesTotal tracks inner-loop retry attempts per channel.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Total number of inner delivery retry attempts",
		},
		[]string{"channel"},
	)

	// DeadLettersTotal tracks jobs that exhausted all retries.
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dead_letters_total",
			Help: "Total number of jobs sent to the dead-letter queue",
		},
		[]string{"channel"},
	)

	// CircuitBreakerState holds each breaker's state as of the most
	// recent /circuits request: 0=closed, 1=open, 2=half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerTripsTotal counts transitions into the open state
	// reported through IncCircuitTrip. The breakers in internal/breaker
	// do not call IncCircuitTrip, so this counter is not incremented.
	CircuitBreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of times a circuit breaker has tripped open",
		},
		[]string{"breaker"},
	)

	// QueueDepth tracks the in-flight handler count per channel queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_in_flight_jobs",
			Help: "Number of jobs currently being handled per queue",
		},
		[]string{"queue"},
	)

	// HTTPRequestDuration tracks admin HTTP surface latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal tracks total admin HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// IncHTTPRequestsTotal increments the HTTP request counter.
func IncHTTPRequestsTotal(method, path string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, path, statusToString(status)).Inc()
}

// ObserveRequestDuration observes HTTP request duration.
func ObserveRequestDuration(method, path string, status int, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, statusToString(status)).Observe(duration)
}

// ObserveDelivery records a terminal delivery outcome and its latency.
func ObserveDelivery(channel, status string, duration float64) {
	DeliveriesTotal.WithLabelValues(channel, status).Inc()
	DeliveryDuration.WithLabelValues(channel, status).Observe(duration)
}

// IncRetry records one inner-loop retry attempt.
func IncRetry(channel string) {
	RetriesTotal.WithLabelValues(channel).Inc()
}

// IncDeadLetter records one job exhausting retries.
func IncDeadLetter(channel string) {
	DeadLettersTotal.WithLabelValues(channel).Inc()
}

// SetCircuitState publishes a breaker's numeric state for scraping.
func SetCircuitState(breaker string, state int) {
	CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// IncCircuitTrip records a breaker transitioning into the open state.
func IncCircuitTrip(breaker string) {
	CircuitBreakerTripsTotal.WithLabelValues(breaker).Inc()
}

// SetQueueDepth publishes the current in-flight handler count.
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func statusToString(status int) string {
	switch status / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "unknown"
	}
}
