// Package observability provides Prometheus metrics, health checks, request
// logging and delivery tracing.
package observability

import (
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for hookline.
//
// Key metrics for monitoring:
//   - events_published_total: Domain events accepted by the publisher
//   - deliveries_delivered_total: Successful delivery rate
//   - deliveries_failed_total: Terminal failures (alerts)
//   - delivery_duration_seconds: Endpoint latency distribution
//   - queue_jobs: Queue depth by state
//   - circuit_breaker_state: Endpoint health (0=ok, 2=failing)
type Metrics struct {
	EventsPublished     *prometheus.CounterVec
	DeliveriesCreated   prometheus.Counter
	EnqueueFailures     prometheus.Counter
	DeliveriesDelivered prometheus.Counter
	DeliveriesFailed    prometheus.Counter
	DeliveriesRetrying  prometheus.Counter
	DeliveriesThrottled prometheus.Counter
	DeliveriesRequeued  prometheus.Counter
	DeliveryDuration    prometheus.Histogram
	DeliveryAttempts    prometheus.Counter
	LifecycleMessages   *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QueueJobs *prometheus.GaugeVec

	CircuitBreakerState   *prometheus.GaugeVec
	CircuitBreakerTrips   *prometheus.CounterVec
	RateLimiterRejections *prometheus.CounterVec
}

// NewMetrics registers the metrics with the default registerer.
// The namespace prefixes all metric names (e.g., "hookline_deliveries_delivered_total").
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the metrics with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of domain events published, by event type",
		}, []string{"event"}),
		DeliveriesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Total number of delivery rows written by the publisher",
		}),
		EnqueueFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Total number of deliveries written but not enqueued",
		}),
		DeliveriesDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_delivered_total",
			Help:      "Total number of deliveries acknowledged with a 2xx",
		}),
		DeliveriesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of deliveries that failed permanently or exhausted retries",
		}),
		DeliveriesRetrying: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_retrying_total",
			Help:      "Total number of delivery attempts scheduled for retry",
		}),
		DeliveriesThrottled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_throttled_total",
			Help:      "Total number of attempts deferred by rate limiting or circuit breaker",
		}),
		DeliveriesRequeued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_requeued_total",
			Help:      "Total number of orphaned deliveries re-enqueued by the sweep",
		}),
		DeliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of webhook delivery attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		DeliveryAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total number of HTTP delivery attempts made",
		}),
		LifecycleMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_messages_total",
			Help:      "Lifecycle messages consumed from Kafka, by outcome",
		}, []string{"event", "outcome"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		QueueJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Delivery jobs by queue state",
		}, []string{"state"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"webhook_id"}),
		CircuitBreakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of times circuit breaker tripped to open state",
		}, []string{"webhook_id"}),
		RateLimiterRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_rejections_total",
			Help:      "Total number of attempts rejected by rate limiter",
		}, []string{"webhook_id"}),
	}
}

// SetQueueCounts publishes a queue depth snapshot.
func (m *Metrics) SetQueueCounts(c queue.Counts) {
	m.QueueJobs.WithLabelValues("waiting").Set(float64(c.Waiting))
	m.QueueJobs.WithLabelValues("active").Set(float64(c.Active))
	m.QueueJobs.WithLabelValues("delayed").Set(float64(c.Delayed))
	m.QueueJobs.WithLabelValues("completed").Set(float64(c.Completed))
	m.QueueJobs.WithLabelValues("failed").Set(float64(c.Failed))
}

// AddRequeued records deliveries re-enqueued by the reconciliation sweep.
func (m *Metrics) AddRequeued(n int) {
	m.DeliveriesRequeued.Add(float64(n))
}

// ObserveBreaker is a resilience.CircuitBreakerManager state change hook.
func (m *Metrics) ObserveBreaker(webhookID string, from, to resilience.CircuitBreakerState) {
	var v float64
	switch to {
	case resilience.CircuitBreakerStateHalfOpen:
		v = 1
	case resilience.CircuitBreakerStateOpen:
		v = 2
		m.CircuitBreakerTrips.WithLabelValues(webhookID).Inc()
	}
	m.CircuitBreakerState.WithLabelValues(webhookID).Set(v)
}
