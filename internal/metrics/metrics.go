// Package metrics holds the prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "decisionlog"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	relays        *prometheus.CounterVec
	decisions     prometheus.Counter
	modelDuration *prometheus.HistogramVec
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Pipeline failures by kind.",
		}, []string{"kind"}),
		relays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_deliveries_total",
			Help:      "Webhook relay attempts by outcome.",
		}, []string{"outcome"}),
		decisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_logged_total",
			Help:      "Decisions appended to history.",
		}),
		modelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Latency of extraction and vision calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}, []string{"op"}),
	}
}

func (m *Metrics) Failure(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Relay(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	m.relays.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DecisionLogged() {
	if m == nil {
		return
	}
	m.decisions.Inc()
}

func (m *Metrics) ModelCall(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) Request(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
