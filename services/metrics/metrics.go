package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/shuttle/core/shuttle"
)

const namespace = "shuttle"

// Metrics holds the application counters on its own registry.
type Metrics struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	confirmations prometheus.Counter
	notifications *prometheus.CounterVec
	overdue       prometheus.Counter
	requests      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_transitions_total",
			Help:      "Route lifecycle transitions, by target state.",
		}, []string{"state"}),
		confirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_confirmations_total",
			Help:      "Attendance confirmations recorded.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications emitted, by category.",
		}, []string{"category"}),
		overdue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_overdue_total",
			Help:      "Payments marked overdue.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "path", "code"}),
	}
	m.registry.MustRegister(
		m.transitions, m.confirmations, m.notifications, m.overdue, m.requests,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Transition(to shuttle.RouteState) {
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) Confirmation() {
	m.confirmations.Inc()
}

func (m *Metrics) Overdue(n int) {
	m.overdue.Add(float64(n))
}

// Notifications counts every notification of a committed outbox.
func (m *Metrics) Notifications(out shuttle.Outbox) {
	for _, n := range out {
		m.notifications.WithLabelValues(string(n.Category)).Inc()
	}
}

func (m *Metrics) Request(method, path string, code int) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
