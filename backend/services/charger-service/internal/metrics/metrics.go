package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ampease/backend/services/charger-service/internal/scheduler"
)

const namespace = "ampease"

// Metrics holds the charger collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionActive    prometheus.Gauge
	sessionEvents    *prometheus.CounterVec
	payments         *prometheus.CounterVec
	pageViews        *prometheus.CounterVec
	reconcileResults *prometheus.CounterVec
}

// New registers the charger collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a paid session is running.",
		}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Scheduler events by type.",
		}, []string{"type"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment attempts by outcome.",
		}, []string{"outcome"}),
		pageViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_views_total",
			Help:      "Page requests by resulting status.",
		}, []string{"status"}),
		reconcileResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation passes by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionActive,
		m.sessionEvents,
		m.payments,
		m.pageViews,
		m.reconcileResults,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent is a scheduler subscriber.
func (m *Metrics) ObserveEvent(ev scheduler.Event) {
	m.sessionEvents.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case scheduler.EventActivated, scheduler.EventRestored:
		m.sessionActive.Set(1)
	case scheduler.EventExpired:
		m.sessionActive.Set(0)
	}
}

// ObserveReconcile counts one reconciliation pass.
func (m *Metrics) ObserveReconcile(result scheduler.ReconcileResult) {
	switch {
	case result.Error != "":
		m.reconcileResults.WithLabelValues("failed").Inc()
	case result.Corrected:
		m.reconcileResults.WithLabelValues("corrected").Inc()
	default:
		m.reconcileResults.WithLabelValues("in_sync").Inc()
	}
}

// ObservePayment counts a payment attempt by outcome.
func (m *Metrics) ObservePayment(outcome string) {
	m.payments.WithLabelValues(outcome).Inc()
}

// ObservePage counts a page view by status.
func (m *Metrics) ObservePage(status string) {
	m.pageViews.WithLabelValues(status).Inc()
}
