package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Event pipeline metrics
	eventsTotal      *prometheus.CounterVec
	eventDuration    prometheus.Histogram
	eventsInFlight   prometheus.Gauge
	branchSkipsTotal *prometheus.CounterVec

	// Delivery metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	deliveryDuration      prometheus.Histogram
	retryAttemptsTotal    prometheus.Counter

	// Duplicate-store metrics
	seenIDs prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEventMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initSeenMetrics(reg)
	return s
}

func (s *PrometheusSink) initEventMetrics(reg prometheus.Registerer) {
	s.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fhirproxy_events_total",
		Help: "Total number of processed notification events.",
	}, []string{"status"})

	s.eventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fhirproxy_event_duration_seconds",
		Help:    "End-to-end processing time of one event in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fhirproxy_events_in_flight",
		Help: "Number of events currently being processed.",
	})

	s.branchSkipsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fhirproxy_branch_skips_total",
		Help: "Total number of related-resource branches skipped after an isolated failure.",
	}, []string{"resource_type"})

	s.register(reg, s.eventsTotal, "fhirproxy_events_total")
	s.register(reg, s.eventDuration, "fhirproxy_event_duration_seconds")
	s.register(reg, s.eventsInFlight, "fhirproxy_events_in_flight")
	s.register(reg, s.branchSkipsTotal, "fhirproxy_branch_skips_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fhirproxy_delivery_attempts_total",
		Help: "Total number of downstream delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fhirproxy_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per record.",
	}, []string{"outcome"})

	s.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fhirproxy_delivery_duration_seconds",
		Help:    "Downstream upsert latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.retryAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fhirproxy_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	})

	s.register(reg, s.deliveryAttemptsTotal, "fhirproxy_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "fhirproxy_delivery_outcomes_total")
	s.register(reg, s.deliveryDuration, "fhirproxy_delivery_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "fhirproxy_retry_attempts_total")
}

func (s *PrometheusSink) initSeenMetrics(reg prometheus.Registerer) {
	s.seenIDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fhirproxy_seen_event_ids",
		Help: "Number of event ids in the duplicate-suppression set.",
	})

	s.register(reg, s.seenIDs, "fhirproxy_seen_event_ids")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Event pipeline metrics implementation

func (s *PrometheusSink) EventProcessed(status string, duration time.Duration) {
	s.eventsTotal.WithLabelValues(status).Inc()
	s.eventDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) BranchSkipped(resourceType string) {
	s.branchSkipsTotal.WithLabelValues(resourceType).Inc()
}

// Delivery metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.deliveryDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt() {
	s.retryAttemptsTotal.Inc()
}

// Duplicate-store metrics implementation

func (s *PrometheusSink) SeenSetSize(size int) {
	s.seenIDs.Set(float64(size))
}
