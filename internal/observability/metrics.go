package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	assignments    *prometheus.CounterVec
	breaches       *prometheus.CounterVec
	configReloads  *prometheus.CounterVec
	notifyDropped  prometheus.Counter
	notifyFailures *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_http_requests_total",
			Help: "HTTP requests processed by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maintenance_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_http_errors_total",
			Help: "HTTP error responses by route and error code.",
		}, []string{"route", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_ticket_transitions_total",
			Help: "Ticket lifecycle operations by action and outcome.",
		}, []string{"action", "outcome"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_assignments_total",
			Help: "Successful assignments by strategy.",
		}, []string{"strategy"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_sla_breaches_total",
			Help: "First-detected SLA breaches by clock and priority.",
		}, []string{"clock", "priority"}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_config_reloads_total",
			Help: "Calendar and policy reloads by outcome.",
		}, []string{"outcome"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maintenance_notifications_dropped_total",
			Help: "Notifications dropped because the delivery queue was full.",
		}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_notification_failures_total",
			Help: "Notification delivery failures by sink.",
		}, []string{"sink"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.errors,
		m.transitions,
		m.assignments,
		m.breaches,
		m.configReloads,
		m.notifyDropped,
		m.notifyFailures,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordTransition counts a lifecycle operation. outcome is "ok" or an error code.
func (m *Metrics) RecordTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

// RecordAssignment counts a successful assignment.
func (m *Metrics) RecordAssignment(strategy string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(strategy).Inc()
}

// RecordBreach counts a newly persisted breach.
func (m *Metrics) RecordBreach(clock, priority string) {
	if m == nil {
		return
	}
	m.breaches.WithLabelValues(clock, priority).Inc()
}

// RecordConfigReload counts a reload attempt.
func (m *Metrics) RecordConfigReload(success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.configReloads.WithLabelValues(outcome).Inc()
}

// RecordNotificationDropped counts a notification lost to back-pressure.
func (m *Metrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}

// RecordNotificationFailure counts a sink delivery failure.
func (m *Metrics) RecordNotificationFailure(sink string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(sink).Inc()
}
