package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordToolExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewWithRegisterer(reg)

	c.RecordToolExecution("echo", "ok", 25*time.Millisecond)
	c.RecordToolExecution("echo", "ok", 10*time.Millisecond)
	c.RecordToolExecution("crasher", "crashed", 5*time.Millisecond)

	if got := testutil.CollectAndCount(c.ToolExecutionCounter); got != 2 {
		t.Fatalf("expected 2 label combinations, got %d", got)
	}

	expected := `
		# HELP agentcore_tool_executions_total Total tool executions by tool name and outcome (ok|error|crashed|timeout|cancelled).
		# TYPE agentcore_tool_executions_total counter
		agentcore_tool_executions_total{outcome="crashed",tool_name="crasher"} 1
		agentcore_tool_executions_total{outcome="ok",tool_name="echo"} 2
	`
	if err := testutil.CollectAndCompare(c.ToolExecutionCounter, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected counter value: %v", err)
	}
}

func TestRecordBroadcastAndDrop(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewWithRegisterer(reg)

	c.RecordBroadcast("message_delta", true)
	c.RecordBroadcast("message_delta", true)
	c.RecordBroadcast("message_delta", false)

	if got := testutil.ToFloat64(c.EventsBroadcast.WithLabelValues("message_delta")); got != 2 {
		t.Fatalf("expected 2 delivered, got %v", got)
	}
	if got := testutil.ToFloat64(c.EventsDropped.WithLabelValues("message_delta")); got != 1 {
		t.Fatalf("expected 1 dropped, got %v", got)
	}
}

func TestSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewWithRegisterer(reg)

	c.SessionStarted()
	c.SessionStarted()
	c.SessionStopped()

	if got := testutil.ToFloat64(c.ActiveSessions); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}
}

func TestRecordProviderRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewWithRegisterer(reg)

	c.RecordProviderRequest("anthropic", "claude-sonnet", "success", 250*time.Millisecond, 120, 40)

	if got := testutil.ToFloat64(c.ProviderRequestCounter.WithLabelValues("anthropic", "claude-sonnet", "success")); got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}
	if got := testutil.ToFloat64(c.ProviderTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "input")); got != 120 {
		t.Fatalf("expected 120 input tokens, got %v", got)
	}
	if got := testutil.ToFloat64(c.ProviderTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "output")); got != 40 {
		t.Fatalf("expected 40 output tokens, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordToolExecution("x", "ok", time.Second)
	c.RecordBroadcast("y", true)
	c.SessionStarted()
	c.SessionStopped()
	c.RecordRunAttempt("finished")
	c.RecordCompaction("noop")
	c.RecordProviderRequest("p", "m", "success", time.Second, 1, 1)
}
