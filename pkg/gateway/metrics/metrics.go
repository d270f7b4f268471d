// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's collectors behind a private registry so
// tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsDenied  prometheus.Counter

	ModelRequestDuration *prometheus.HistogramVec
	ModelRequestErrors   *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	EventsReceived  *prometheus.CounterVec

	RateLimitHits prometheus.Counter

	DashboardClients prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_http_requests_total",
			Help: "HTTP requests handled, by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prearrival_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prearrival_sessions_active",
			Help: "Intake sessions currently held in memory.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prearrival_sessions_started_total",
			Help: "Intake sessions started.",
		}),
		SessionsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prearrival_sessions_denied_total",
			Help: "Session starts refused by the session-window limit.",
		}),
		ModelRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prearrival_model_request_duration_seconds",
			Help:    "Upstream model call latency by operation.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}, []string{"operation"}),
		ModelRequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_model_request_errors_total",
			Help: "Upstream model call failures by operation.",
		}, []string{"operation"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_sync_events_published_total",
			Help: "Sync events published, by event type.",
		}, []string{"type"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_sync_events_received_total",
			Help: "Sync events received from remote nodes, by event type.",
		}, []string{"type"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prearrival_rate_limit_hits_total",
			Help: "Requests denied by the request rate limiter.",
		}),
		DashboardClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prearrival_dashboard_clients",
			Help: "Dashboard websocket clients currently connected.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.SessionsActive,
		m.SessionsStarted,
		m.SessionsDenied,
		m.ModelRequestDuration,
		m.ModelRequestErrors,
		m.EventsPublished,
		m.EventsReceived,
		m.RateLimitHits,
		m.DashboardClients,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
