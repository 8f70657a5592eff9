// Package metrics provides the runtime's Prometheus instrumentation: tool
// execution counts/latencies, event-bus broadcast/drop counts, provider
// request latency and token usage, and active-session gauges. One struct
// of pre-registered vectors is built once at startup and threaded through
// as a plain field — no bespoke metrics abstraction, just
// prometheus/client_golang used directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric this runtime exposes. The zero value is not
// usable; build one with New or NewWithRegisterer.
type Collector struct {
	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	EventsBroadcast *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	ProviderRequestCounter  *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderTokensUsed      *prometheus.CounterVec

	ActiveSessions prometheus.Gauge
	RunAttempts    *prometheus.CounterVec

	CompactionRuns *prometheus.CounterVec
}

// New registers every metric against the default Prometheus registry. Call
// once per process; constructing a second Collector against the default
// registry will panic on duplicate registration, same as promauto anywhere
// else — callers that need an isolated registry (tests, multiple runtimes
// in one process) should use NewWithRegisterer instead.
func New() *Collector {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers every metric against reg, which lets tests
// and multi-runtime processes avoid colliding with the default registry.
func NewWithRegisterer(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	activeSessions := factory.NewGauge(prometheus.GaugeOpts{
		Name: "agentcore_active_sessions",
		Help: "Current number of live agent sessions.",
	})

	return &Collector{
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total tool executions by tool name and outcome (ok|error|crashed|timeout|cancelled).",
			},
			[]string{"tool_name", "outcome"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Tool execution latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		EventsBroadcast: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_bus_events_broadcast_total",
				Help: "Total events handed to subscriber channels by event type.",
			},
			[]string{"event_type"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_bus_events_dropped_total",
				Help: "Total events dropped because a subscriber's channel was full.",
			},
			[]string{"event_type"},
		),
		ProviderRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_requests_total",
				Help: "Total provider stream requests by provider, model, and status.",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_provider_request_duration_seconds",
				Help:    "Provider stream request latency in seconds, start to response_done.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		ProviderTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_tokens_total",
				Help: "Total tokens consumed by provider, model, and kind (input|output).",
			},
			[]string{"provider", "model", "kind"},
		),
		ActiveSessions: activeSessions,
		RunAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_run_attempts_total",
				Help: "Total agent run attempts by terminal status (finished|error|aborted|max_iterations).",
			},
			[]string{"status"},
		),
		CompactionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compaction_runs_total",
				Help: "Total compaction passes by outcome (compacted|noop|forced).",
			},
			[]string{"outcome"},
		),
	}
}

// RecordToolExecution records one tool dispatch's outcome and latency.
func (c *Collector) RecordToolExecution(toolName, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ToolExecutionCounter.WithLabelValues(toolName, outcome).Inc()
	c.ToolExecutionDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

// RecordBroadcast records one successful or dropped delivery attempt to a
// single subscriber for an event of the given type.
func (c *Collector) RecordBroadcast(eventType string, delivered bool) {
	if c == nil {
		return
	}
	if delivered {
		c.EventsBroadcast.WithLabelValues(eventType).Inc()
		return
	}
	c.EventsDropped.WithLabelValues(eventType).Inc()
}

// RecordProviderRequest records a completed provider stream request.
func (c *Collector) RecordProviderRequest(provider, model, status string, d time.Duration, inputTokens, outputTokens int) {
	if c == nil {
		return
	}
	c.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	c.ProviderRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if inputTokens > 0 {
		c.ProviderTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.ProviderTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// SessionStarted increments the active-session gauge.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.ActiveSessions.Inc()
}

// SessionStopped decrements the active-session gauge.
func (c *Collector) SessionStopped() {
	if c == nil {
		return
	}
	c.ActiveSessions.Dec()
}

// RecordRunAttempt records one agent run reaching a terminal status.
func (c *Collector) RecordRunAttempt(status string) {
	if c == nil {
		return
	}
	c.RunAttempts.WithLabelValues(status).Inc()
}

// RecordCompaction records one compaction pass outcome.
func (c *Collector) RecordCompaction(outcome string) {
	if c == nil {
		return
	}
	c.CompactionRuns.WithLabelValues(outcome).Inc()
}
