// Package metrics holds the bridge's Prometheus collectors. Every method is
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Router
	Messages *prometheus.CounterVec

	// CNL
	Captures *prometheus.CounterVec

	// Worker
	WorkerDispatches *prometheus.CounterVec
	WorkerDuration   *prometheus.HistogramVec
	WorkerCreations  prometheus.Counter

	// Tabs
	TabConnections prometheus.Gauge

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "myjd_bridge_messages_total",
			Help: "Inbound extension messages by action and outcome",
		}, []string{"action", "outcome"}),
		Captures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "myjd_bridge_cnl_captures_total",
			Help: "Click'N'Load captures ingested by endpoint type and disposition",
		}, []string{"type", "disposition"}),
		WorkerDispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "myjd_bridge_worker_dispatch_total",
			Help: "Privileged worker dispatches by action and status",
		}, []string{"action", "status"}),
		WorkerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "myjd_bridge_worker_dispatch_duration_seconds",
			Help:    "Privileged worker dispatch duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
		WorkerCreations: f.NewCounter(prometheus.CounterOpts{
			Name: "myjd_bridge_worker_creations_total",
			Help: "Privileged worker creations",
		}),
		TabConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "myjd_bridge_tab_connections",
			Help: "Content scripts currently connected",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "myjd_bridge_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "myjd_bridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) ObserveMessage(action, outcome string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveCapture(captureType, disposition string) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(captureType, disposition).Inc()
}

func (m *Metrics) ObserveDispatch(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkerDispatches.WithLabelValues(action, status).Inc()
	m.WorkerDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) ObserveWorkerCreation() {
	if m == nil {
		return
	}
	m.WorkerCreations.Inc()
}

func (m *Metrics) TabConnected(delta int) {
	if m == nil {
		return
	}
	m.TabConnections.Add(float64(delta))
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
