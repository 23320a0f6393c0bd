// Package metrics exposes Prometheus counters for session reconciliation,
// route guards, comparison calls and live client instances.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconcile outcomes.
const (
	OutcomeSignedOut    = "signed_out"
	OutcomeValid        = "valid"
	OutcomeWrongRole    = "wrong_role"
	OutcomeUpsertFailed = "upsert_failed"
	OutcomeFailed       = "failed"
	OutcomeSuperseded   = "superseded"
)

// Recorder is what the rest of the application records into.
type Recorder interface {
	RecordReconcile(outcome string)
	RecordGuardRedirect(target string)
	RecordComparison(provider string, err error, d time.Duration)
	SetActiveApps(n int)
}

// Nop discards everything. Tests and the compare command use it.
type Nop struct{}

func (Nop) RecordReconcile(string)                        {}
func (Nop) RecordGuardRedirect(string)                    {}
func (Nop) RecordComparison(string, error, time.Duration) {}
func (Nop) SetActiveApps(int)                             {}

// Collector is the prometheus-backed Recorder. All vectors are registered
// on the registry passed to NewCollector, never on the global default, so
// tests can build as many as they like.
type Collector struct {
	reconciles     *prometheus.CounterVec
	guardRedirects *prometheus.CounterVec
	comparisons    *prometheus.CounterVec
	compareLatency *prometheus.HistogramVec
	activeApps     prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbot_session_reconciles_total",
			Help: "Session reconciliations by outcome.",
		}, []string{"outcome"}),
		guardRedirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbot_guard_redirects_total",
			Help: "Requests redirected by a route guard, by target.",
		}, []string{"target"}),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbot_comparisons_total",
			Help: "Comparison service calls by provider and result.",
		}, []string{"provider", "result"}),
		compareLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smartbot_comparison_duration_seconds",
			Help:    "Comparison service latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		activeApps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartbot_active_clients",
			Help: "Client application instances currently held in memory.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbot_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smartbot_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.reconciles,
		c.guardRedirects,
		c.comparisons,
		c.compareLatency,
		c.activeApps,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

func (c *Collector) RecordReconcile(outcome string) {
	c.reconciles.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordGuardRedirect(target string) {
	c.guardRedirects.WithLabelValues(target).Inc()
}

func (c *Collector) RecordComparison(provider string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.comparisons.WithLabelValues(provider, result).Inc()
	c.compareLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (c *Collector) SetActiveApps(n int) {
	c.activeApps.Set(float64(n))
}

// Middleware records request counts and latency. Routes are labelled with
// the chi route pattern to keep label cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
