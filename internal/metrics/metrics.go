// Package metrics owns the Prometheus collectors exported at /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	graphCalls   *prometheus.CounterVec
	stripeCalls  *prometheus.CounterVec
	usageReports *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)
	return &Metrics{
		registry: registry,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adlens_http_requests_total",
			Help: "HTTP requests by route template, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adlens_http_request_duration_seconds",
			Help:    "HTTP request latency by route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		graphCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adlens_graph_calls_total",
			Help: "Facebook Graph API calls by endpoint family and outcome.",
		}, []string{"family", "outcome"}),
		stripeCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adlens_stripe_calls_total",
			Help: "Stripe API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		usageReports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adlens_usage_reports_total",
			Help: "Metered usage reports pushed to Stripe by outcome.",
		}, []string{"outcome"}),
	}
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func (m *Metrics) WithRuntimeCollectors() *Metrics {
	if m == nil {
		return m
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) GraphCall(family, outcome string) {
	if m == nil {
		return
	}
	m.graphCalls.WithLabelValues(family, outcome).Inc()
}

func (m *Metrics) StripeCall(operation string, err error) {
	if m == nil {
		return
	}
	m.stripeCalls.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) UsageReport(outcome string) {
	if m == nil {
		return
	}
	m.usageReports.WithLabelValues(outcome).Inc()
}

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
