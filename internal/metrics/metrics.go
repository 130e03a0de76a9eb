package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics counts what happens to appointments.
type SchedulingMetrics struct {
	transitions   *prometheus.CounterVec
	created       prometheus.Counter
	conflicts     prometheus.Counter
	lockBusy      prometheus.Counter
	auditFailures *prometheus.CounterVec
	noShowsSwept  prometheus.Counter
	opLatency     *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment status transitions applied",
		}, []string{"from", "to"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "appointments_created_total",
			Help:      "Appointments booked",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Create or reschedule requests rejected for overlapping a provider's schedule",
		}),
		lockBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "provider_lock_busy_total",
			Help:      "Requests rejected because the provider lock was held",
		}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "audit",
			Name:      "failures_total",
			Help:      "Audit entries that could not be recorded",
		}, []string{"action"}),
		noShowsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "no_shows_swept_total",
			Help:      "Appointments marked NO_SHOW by the sweeper",
		}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operation_duration_seconds",
			Help:      "Latency of scheduling operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.created, m.conflicts, m.lockBusy, m.auditFailures, m.noShowsSwept, m.opLatency)
	return m
}

func (m *SchedulingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *SchedulingMetrics) ObserveCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *SchedulingMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *SchedulingMetrics) ObserveLockBusy() {
	if m == nil {
		return
	}
	m.lockBusy.Inc()
}

func (m *SchedulingMetrics) ObserveAuditFailure(action string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(action).Inc()
}

func (m *SchedulingMetrics) ObserveNoShowsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.noShowsSwept.Add(float64(n))
}

func (m *SchedulingMetrics) ObserveOperation(op string, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.opLatency.WithLabelValues(op, outcome).Observe(seconds)
}
