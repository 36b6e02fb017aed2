// Package metrics holds the Prometheus collectors of the hub.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deposition outcomes.
const (
	OutcomeSynchronized  = "synchronized"
	OutcomeCreateFailed  = "create_failed"
	OutcomeUploadFailed  = "upload_failed"
	OutcomePublishFailed = "publish_failed"
)

// Metrics bundles the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	depositions     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	apiKeyDecisions *prometheus.CounterVec
}

// New creates the collectors and registers them with Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		depositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "astrohub_deposition_total", Help: "Archive synchronization attempts by outcome"},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "astrohub_http_requests_total", Help: "HTTP requests by route and status"},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "astrohub_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "astrohub_rate_limited_total", Help: "Requests rejected by the rate limiter"},
			[]string{"scope"},
		),
		apiKeyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "astrohub_api_key_decisions_total", Help: "API key gate decisions"},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.depositions, m.httpRequests, m.httpDuration, m.rateLimited, m.apiKeyDecisions,
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

// ObserveDeposition counts one synchronization attempt.
func (m *Metrics) ObserveDeposition(outcome string) {
	m.depositions.WithLabelValues(outcome).Inc()
}

// ObserveRateLimited counts a rejected request.
func (m *Metrics) ObserveRateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

// ObserveAPIKey counts an API key gate decision ("ok" or an error kind).
func (m *Metrics) ObserveAPIKey(result string) {
	m.apiKeyDecisions.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
