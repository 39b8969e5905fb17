package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuthMetrics exposes counters for the login plane. Everything here is
// fed from the security event trail, so counts match the audit log.
type AuthMetrics struct {
	loginsTotal    *prometheus.CounterVec
	refreshesTotal *prometheus.CounterVec
	securityEvents *prometheus.CounterVec
}

func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		loginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by role and outcome",
		}, []string{"role", "outcome"}),
		refreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Refresh token rotations by role and outcome",
		}, []string{"role", "outcome"}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "auth",
			Name:      "security_events_total",
			Help:      "Security events recorded by kind and severity",
		}, []string{"kind", "severity"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.loginsTotal, m.refreshesTotal, m.securityEvents)
	return m
}

func (m *AuthMetrics) ObserveLogin(role, outcome string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(role, outcome).Inc()
}

func (m *AuthMetrics) ObserveRefresh(role, outcome string) {
	if m == nil {
		return
	}
	m.refreshesTotal.WithLabelValues(role, outcome).Inc()
}

func (m *AuthMetrics) ObserveSecurityEvent(kind, severity string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(kind, severity).Inc()
}

// SchedulingMetrics exposes counters/histograms for the booking plane.
type SchedulingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	slotsPublished     prometheus.Counter
	reserveLatency     prometheus.Histogram
	searchLatency      prometheus.Histogram
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by appointment type and outcome",
		}, []string{"appointment_type", "outcome"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "scheduling",
			Name:      "cancellations_total",
			Help:      "Cancellation attempts by outcome",
		}, []string{"outcome"}),
		slotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "scheduling",
			Name:      "slots_published_total",
			Help:      "Bookable slots created by providers",
		}),
		reserveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "scheduling",
			Name:      "reserve_latency_seconds",
			Help:      "Latency of successful slot reservations",
			Buckets:   prometheus.DefBuckets,
		}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "scheduling",
			Name:      "search_latency_seconds",
			Help:      "Latency of public availability searches",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.cancellationsTotal, m.slotsPublished, m.reserveLatency, m.searchLatency)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(appointmentType, outcome string) {
	if m == nil {
		return
	}
	if appointmentType == "" {
		appointmentType = "unknown"
	}
	m.bookingsTotal.WithLabelValues(appointmentType, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSlotsPublished(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.slotsPublished.Add(float64(count))
}

func (m *SchedulingMetrics) ObserveReserveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.reserveLatency.Observe(seconds)
}

func (m *SchedulingMetrics) ObserveSearchLatency(seconds float64) {
	if m == nil {
		return
	}
	m.searchLatency.Observe(seconds)
}
