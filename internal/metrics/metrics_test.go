package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("booked")
	m.ObserveBooking("booked")
	m.ObserveBooking("slot_unavailable")
	m.ObserveOrphansReleased(3)
	m.ObserveOrphansReleased(0)
	m.ObserveHTTP("POST", "/appointments", "201", 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("slot_unavailable")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.orphansReleased))
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("booked")
	m.ObserveTransition("appointment.cancelled")
	m.ObserveNotification("persisted")
	m.ObserveOrphansReleased(1)
	m.ObserveHTTP("GET", "/health/live", "200", 0.001)
}
