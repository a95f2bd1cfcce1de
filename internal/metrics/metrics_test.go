package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Booking("user", "ok")
	m.Booking("user", "ok")
	m.Booking("walk_in", "no_slots_left")
	m.Transition("deny", "ok")
	m.Notification("failed")
	m.Reconciled(3)
	m.Reconciled(0)
	m.ObserveHTTP("/appointments", http.MethodPost, 201, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues("user", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("walk_in", "no_slots_left")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("deny", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconciledRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/appointments", "POST", "201")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Booking("user", "ok")
		m.Transition("flag", "forbidden")
		m.Notification("ok")
		m.Reconciled(1)
		m.ObserveHTTP("/", http.MethodGet, 200, time.Millisecond)
	})
}
