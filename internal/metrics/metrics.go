// Package metrics exposes Prometheus counters for live sessions. All methods
// are safe on a nil *Metrics so callers need not check.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	StateTransitions *prometheus.CounterVec
	OutboundEvents   *prometheus.CounterVec
	AudioBytes       *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	Recordings       *prometheus.CounterVec
	Tokens           *prometheus.CounterVec
}

// New registers every collector on a private registry, plus the Go runtime
// and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gemini_live"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Connections currently being handled",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Finished connections by result",
		}, []string{"result"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "session_duration_seconds",
			Help:    "Connection lifetime",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_transitions_total",
			Help: "Connection state machine transitions",
		}, []string{"from", "to"}),
		OutboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_events_total",
			Help: "Events written to clients by type and outcome",
		}, []string{"event", "status"}),
		AudioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_bytes_total",
			Help: "PCM bytes moved through sessions",
		}, []string{"direction"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total",
			Help: "Tool invocations by name and status",
		}, []string{"tool", "status"}),
		Recordings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "recordings_total",
			Help: "Recording assembly outcomes",
		}, []string{"status"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_tokens_total",
			Help: "Model token usage reported by the live API",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(
		m.SessionsActive, m.SessionsTotal, m.SessionDuration, m.StateTransitions,
		m.OutboundEvents, m.AudioBytes, m.ToolCalls, m.Recordings, m.Tokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(result).Inc()
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Outbound(event string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.OutboundEvents.WithLabelValues(event, status).Inc()
}

// Audio counts PCM bytes; direction is "in" (client) or "out" (model).
func (m *Metrics) Audio(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) Recording(status string) {
	if m == nil {
		return
	}
	m.Recordings.WithLabelValues(status).Inc()
}

func (m *Metrics) TokenUsage(prompt, response int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.Tokens.WithLabelValues("prompt").Add(float64(prompt))
	}
	if response > 0 {
		m.Tokens.WithLabelValues("response").Add(float64(response))
	}
}
