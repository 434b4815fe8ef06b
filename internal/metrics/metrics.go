// ABOUTME: Prometheus collectors for turns, model calls, tools, and HTTP traffic
// ABOUTME: Implements the agent and conversation recorder interfaces

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/assistant-gateway/internal/conversation"
	"github.com/2389/assistant-gateway/internal/llm"
)

const namespace = "assistant"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	turnsStarted  prometheus.Counter
	turnsFinished *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	turnsInFlight prometheus.Gauge
	tokens        *prometheus.CounterVec

	modelCalls    *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	failovers     *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	sseStreams   prometheus.Gauge
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_started_total",
			Help: "Turns accepted by the coordinator.",
		}),
		turnsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_finished_total",
			Help: "Turns that reached a terminal state.",
		}, []string{"state"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "turn_duration_seconds",
			Help:    "Wall-clock time from turn start to terminal event.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"state"}),
		turnsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "turns_in_flight",
			Help: "Turns currently running.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tokens_total",
			Help: "Tokens consumed per model and direction.",
		}, []string{"model", "direction"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_calls_total",
			Help: "Model invocations by outcome.",
		}, []string{"model", "outcome"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "model_call_duration_seconds",
			Help:    "Latency of a single model call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_failovers_total",
			Help: "Times a throttled model was skipped for the next candidate.",
		}, []string{"model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total",
			Help: "Tool invocations by outcome.",
		}, []string{"tool", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		sseStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sse_streams_open",
			Help: "Open server-sent event streams.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turnsStarted, m.turnsFinished, m.turnDuration, m.turnsInFlight, m.tokens,
		m.modelCalls, m.modelDuration, m.failovers, m.toolCalls,
		m.httpRequests, m.sseStreams,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TurnStarted() {
	m.turnsStarted.Inc()
	m.turnsInFlight.Inc()
}

func (m *Metrics) TurnFinished(state conversation.State, d time.Duration) {
	m.turnsInFlight.Dec()
	m.turnsFinished.WithLabelValues(state.String()).Inc()
	m.turnDuration.WithLabelValues(state.String()).Observe(d.Seconds())
}

func (m *Metrics) TokensUsed(model string, input, output int64) {
	m.tokens.WithLabelValues(model, "input").Add(float64(input))
	m.tokens.WithLabelValues(model, "output").Add(float64(output))
}

func (m *Metrics) ModelCall(model string, d time.Duration, err error) {
	m.modelCalls.WithLabelValues(model, outcome(err)).Inc()
	m.modelDuration.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) ToolCall(tool string, err error) {
	m.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

func (m *Metrics) Failover(from string) {
	m.failovers.WithLabelValues(from).Inc()
}

// StreamOpened tracks an SSE stream; call the returned func when it closes.
func (m *Metrics) StreamOpened() func() {
	m.sseStreams.Inc()
	return m.sseStreams.Dec
}

// Middleware counts requests by their mux pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, llm.ErrThrottled):
		return "throttled"
	default:
		return "error"
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
