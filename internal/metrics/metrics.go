package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	bookings       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	reconciledRows prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teahouse",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teahouse",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teahouse",
			Name:      "bookings_total",
			Help:      "Booking attempts by path (user, walk_in) and result.",
		}, []string{"path", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teahouse",
			Name:      "appointment_transitions_total",
			Help:      "Appointment workflow transitions by name and result.",
		}, []string{"transition", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teahouse",
			Name:      "notifications_total",
			Help:      "Notification dispatches by result.",
		}, []string{"result"}),
		reconciledRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teahouse",
			Name:      "reconciled_dates_total",
			Help:      "Dates whose spots_left counter was rewritten by the reconcile worker.",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.bookings,
		m.transitions,
		m.notifications,
		m.reconciledRows,
	)

	return m
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) Booking(path, result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(path, result).Inc()
}

func (m *Metrics) Transition(name, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name, result).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciledRows.Add(float64(n))
}
