// Package metrics exposes Prometheus collectors for the memory engine, the
// assistant and the HTTP gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/hafiza/internal/memory"
)

const namespace = "hafiza"

// ServiceName is the core.AppContext service name of the shared Metrics.
const ServiceName = "metrics"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	searches      *prometheus.CounterVec
	searchLatency *prometheus.HistogramVec
	searchHits    *prometheus.HistogramVec
	upserts       *prometheus.CounterVec
	skippedDims   prometheus.Counter

	completions       *prometheus.CounterVec
	completionTokens  prometheus.Counter
	completionLatency prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

var _ memory.Observer = (*Metrics)(nil)

// New creates and registers every collector, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "memory", Name: "searches_total",
			Help: "Memory searches by mode and result.",
		}, []string{"mode", "result"}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "memory", Name: "search_duration_seconds",
			Help:    "Memory search latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"mode"}),
		searchHits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "memory", Name: "search_hits",
			Help:    "Hits returned per search.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"mode"}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "memory", Name: "upserts_total",
			Help: "Novelty-gated writes by outcome.",
		}, []string{"outcome"}),
		skippedDims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "memory", Name: "dimension_skips_total",
			Help: "Candidates skipped because their embedding dimension differs from the query.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "assistant", Name: "completions_total",
			Help: "LLM completions by result.",
		}, []string{"result"}),
		completionTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "assistant", Name: "tokens_total",
			Help: "Tokens reported by the LLM provider.",
		}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "assistant", Name: "completion_duration_seconds",
			Help:    "LLM completion latency.",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.searches, m.searchLatency, m.searchHits, m.upserts, m.skippedDims,
		m.completions, m.completionTokens, m.completionLatency,
		m.httpRequests, m.httpLatency,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSearch implements memory.Observer.
func (m *Metrics) ObserveSearch(mode string, elapsed time.Duration, hits int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.searches.WithLabelValues(mode, result).Inc()
	m.searchLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
	if err == nil {
		m.searchHits.WithLabelValues(mode).Observe(float64(hits))
	}
}

// ObserveUpsert implements memory.Observer.
func (m *Metrics) ObserveUpsert(outcome memory.UpsertOutcome) {
	m.upserts.WithLabelValues(string(outcome)).Inc()
}

// ObserveSkippedDimension implements memory.Observer.
func (m *Metrics) ObserveSkippedDimension(n int) {
	m.skippedDims.Add(float64(n))
}

// ObserveCompletion records one LLM call of an assistant turn.
func (m *Metrics) ObserveCompletion(elapsed time.Duration, tokens int, err error) {
	if err != nil {
		m.completions.WithLabelValues("error").Inc()
		return
	}
	m.completions.WithLabelValues("ok").Inc()
	m.completionTokens.Add(float64(tokens))
	m.completionLatency.Observe(elapsed.Seconds())
}

// Middleware records request counts and latency labelled with the chi
// route pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
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
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
