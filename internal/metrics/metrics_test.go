package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveTransition("SCHEDULED", "CONFIRMED")
	m.ObserveTransition("SCHEDULED", "CONFIRMED")
	m.ObserveCreated()
	m.ObserveConflict()
	m.ObserveLockBusy()
	m.ObserveAuditFailure("APPOINTMENT_CANCELLED")
	m.ObserveNoShowsSwept(3)
	m.ObserveNoShowsSwept(0)
	m.ObserveOperation("create", nil, 0.01)
	m.ObserveOperation("create", errors.New("x"), 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("SCHEDULED", "CONFIRMED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.noShowsSwept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditFailures.WithLabelValues("APPOINTMENT_CANCELLED")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.opLatency))
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("GET", "/api/appointments", 200, 0.003)
	m.ObserveRequest("GET", "", 404, 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
}

func TestMetricsNilSafe(t *testing.T) {
	var s *SchedulingMetrics
	s.ObserveTransition("a", "b")
	s.ObserveCreated()
	s.ObserveConflict()
	s.ObserveLockBusy()
	s.ObserveAuditFailure("x")
	s.ObserveNoShowsSwept(1)
	s.ObserveOperation("x", nil, 0)

	var h *HTTPMetrics
	h.ObserveRequest("GET", "/", 200, 0)
}
