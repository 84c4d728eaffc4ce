// Package observability provides Prometheus metrics for the turn
// pipeline, trimmed from the teacher's much larger agent/tool/RAG metrics
// surface down to the handful of signals this system actually produces:
// turns, LLM calls, and HTTP requests.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one process. A nil
// *Metrics is valid and every Record* method becomes a no-op, so
// observability can be wired in optionally without nil-guarding at every
// call site.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	escalations   prometheus.Counter
	llmCalls      *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	llmErrors     *prometheus.CounterVec
	sessionsTotal prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every collector under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "engine", Name: "turns_total",
		Help: "Total number of engine turns processed, labeled by resulting transition.",
	}, []string{"transition"})

	m.turnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "engine", Name: "turn_duration_seconds",
		Help:    "Wall-clock duration of a single engine turn.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"transition"})

	m.escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "engine", Name: "escalations_total",
		Help: "Total number of GIVE_UP decisions that escalated a session.",
	})

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "llm", Name: "calls_total",
		Help: "Total number of structured-output LLM calls, labeled by caller (executor or narrator).",
	}, []string{"caller"})

	m.llmDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "llm", Name: "call_duration_seconds",
		Help:    "LLM call duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"caller"})

	m.llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "llm", Name: "errors_total",
		Help: "Total number of failed LLM calls, labeled by caller.",
	}, []string{"caller"})

	m.sessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "session", Name: "created_total",
		Help: "Total number of sessions created.",
	})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests served.",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.turnsTotal, m.turnDuration, m.escalations,
		m.llmCalls, m.llmDuration, m.llmErrors,
		m.sessionsTotal, m.httpRequests, m.httpDuration,
	)
	return m
}

// RecordTurn records one completed engine turn.
func (m *Metrics) RecordTurn(transition string, duration time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(transition).Inc()
	m.turnDuration.WithLabelValues(transition).Observe(duration.Seconds())
}

// RecordEscalation records a GIVE_UP decision.
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// RecordLLMCall records a structured-output LLM call made by caller
// ("executor" or "narrator").
func (m *Metrics) RecordLLMCall(caller string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(caller).Inc()
	m.llmDuration.WithLabelValues(caller).Observe(duration.Seconds())
	if err != nil {
		m.llmErrors.WithLabelValues(caller).Inc()
	}
}

// RecordSessionCreated records a session creation.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusCodeLabel(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler returns an HTTP handler exposing the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
