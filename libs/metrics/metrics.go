package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SchedulingMetrics exposes counters/histograms for slot queries and booking attempts.
type SchedulingMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	slotQueriesTotal  *prometheus.CounterVec
	bookingLatency    prometheus.Histogram
	ledgerLockWait    prometheus.Histogram
	outboxPublished   *prometheus.CounterVec
	hoursCacheLookups *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by target status and outcome",
		}, []string{"status", "outcome"}),
		slotQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "availability",
			Name:      "queries_total",
			Help:      "Available-slot queries by outcome",
		}, []string{"outcome"}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicsched",
			Subsystem: "booking",
			Name:      "latency_seconds",
			Help:      "End-to-end latency of a booking attempt",
			Buckets:   prometheus.DefBuckets,
		}),
		ledgerLockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicsched",
			Subsystem: "ledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the professional/day ledger lock",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events handed to the broker by outcome",
		}, []string{"outcome"}),
		hoursCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "hours",
			Name:      "cache_lookups_total",
			Help:      "Business-hours cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.transitionsTotal,
		m.slotQueriesTotal,
		m.bookingLatency,
		m.ledgerLockWait,
		m.outboxPublished,
		m.hoursCacheLookups,
	)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingLatency.Observe(elapsed.Seconds())
}

func (m *SchedulingMetrics) ObserveTransition(status, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(status, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSlotQuery(outcome string) {
	if m == nil {
		return
	}
	m.slotQueriesTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveLockWait(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ledgerLockWait.Observe(elapsed.Seconds())
}

func (m *SchedulingMetrics) ObserveOutboxPublish(outcome string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveHoursCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.hoursCacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the given gatherer, or the default registry when nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
