package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentcore/runtime/pkg/models"
)

type echoTool struct {
	schema json.RawMessage
	delay  time.Duration
	panics bool
	fails  error
}

func (t *echoTool) Name() string                       { return "echo" }
func (t *echoTool) Description() string                { return "echoes its input" }
func (t *echoTool) ParametersSchema() json.RawMessage  { return t.schema }

func (t *echoTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	if t.panics {
		panic("boom")
	}
	if t.fails != nil {
		return nil, t.fails
	}
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &models.ToolResult{Content: string(input)}, nil
}

func call(id, name string, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res, err := r.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Error("expected IsError for unknown tool")
	}
}

func TestRegistry_RegisterValidatesSchema(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{"type":"object","required":["x"],"properties":{"x":{"type":"string"}}}`)
	if err := r.Register(&echoTool{schema: schema}); err != nil {
		t.Fatal(err)
	}

	res, err := r.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected schema validation failure for missing required field")
	}

	res, err = r.Execute(context.Background(), "echo", json.RawMessage(`{"x":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Errorf("expected success, got error: %s", res.Content)
	}
}

func TestRegistry_RegisterRejectsInvalidSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&echoTool{schema: json.RawMessage(`{not json`)})
	if err == nil {
		t.Error("expected error compiling invalid schema")
	}
}

// Results preserve input order regardless of completion order.
func TestExecutor_ExecuteAll_PreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})
	exec := NewExecutor(r, nil)

	calls := []models.ToolCall{
		call("1", "echo", `"slow"`),
		call("2", "echo", `"fast"`),
	}
	// Registering again under the same name replaces the earlier echo tool;
	// both calls dispatch to the replacement.
	r.Register(&echoTool{})

	results := exec.ExecuteAll(context.Background(), calls, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ToolCallID != "1" || results[1].ToolCallID != "2" {
		t.Errorf("result order mismatch: %+v", results)
	}
}

// A panicking tool is isolated and reported as a crash, not propagated.
func TestExecutor_CrashIsolation(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{panics: true})
	exec := NewExecutor(r, nil)

	results := exec.ExecuteAll(context.Background(), []models.ToolCall{call("1", "echo", `{}`)}, nil)
	if results[0].Error == nil {
		t.Fatal("expected crash to surface as an error")
	}
	te, ok := GetToolError(results[0].Error)
	if !ok || te.Type != ToolErrorPanic {
		t.Errorf("expected ToolErrorPanic, got %+v", results[0].Error)
	}
}

func TestExecutor_ToolExecutionErrorWrapped(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{fails: errors.New("disk full")})
	exec := NewExecutor(r, nil)

	results := exec.ExecuteAll(context.Background(), []models.ToolCall{call("1", "echo", `{}`)}, nil)
	if results[0].Error == nil {
		t.Fatal("expected error")
	}
}

func TestExecutor_Timeout(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{delay: 50 * time.Millisecond})
	exec := NewExecutor(r, &ExecutorConfig{MaxConcurrency: 1, DefaultTimeout: 5 * time.Millisecond})

	results := exec.ExecuteAll(context.Background(), []models.ToolCall{call("1", "echo", `{}`)}, nil)
	te, ok := GetToolError(results[0].Error)
	if !ok || te.Type != ToolErrorTimeout {
		t.Errorf("expected timeout error, got %+v", results[0].Error)
	}
}

func TestExecutor_ConcurrencyBounded(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{delay: 20 * time.Millisecond})
	exec := NewExecutor(r, &ExecutorConfig{MaxConcurrency: 2, DefaultTimeout: time.Second})

	var inFlight, maxSeen int64
	wrapped := &trackingTool{inner: &echoTool{delay: 20 * time.Millisecond}, inFlight: &inFlight, maxSeen: &maxSeen}
	r.Register(wrapped)

	calls := make([]models.ToolCall, 6)
	for i := range calls {
		calls[i] = call(fmt.Sprintf("%d", i), "echo", `{}`)
	}
	exec.ExecuteAll(context.Background(), calls, nil)

	if atomic.LoadInt64(&maxSeen) > 2 {
		t.Errorf("max concurrent executions = %d, want <= 2", maxSeen)
	}
}

type trackingTool struct {
	inner    *echoTool
	inFlight *int64
	maxSeen  *int64
}

func (t *trackingTool) Name() string                      { return "echo" }
func (t *trackingTool) Description() string               { return "" }
func (t *trackingTool) ParametersSchema() json.RawMessage  { return nil }
func (t *trackingTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	n := atomic.AddInt64(t.inFlight, 1)
	defer atomic.AddInt64(t.inFlight, -1)
	for {
		cur := atomic.LoadInt64(t.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt64(t.maxSeen, cur, n) {
			break
		}
	}
	return t.inner.Execute(ctx, input)
}

func TestResultsToMessages_UnknownToolStillYieldsOneResult(t *testing.T) {
	results := []*ExecutionResult{
		{ToolCallID: "1", Error: NewToolError("ghost", errors.New("tool not found")).WithToolCallID("1")},
	}
	msgs := ResultsToMessages("sess", "branch", results)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if !msgs[0].IsError || msgs[0].ToolCallID != "1" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

func TestAnyErrors(t *testing.T) {
	ok := []*ExecutionResult{{Result: &models.ToolResult{}}}
	if AnyErrors(ok) {
		t.Error("expected no errors")
	}
	bad := []*ExecutionResult{{Result: &models.ToolResult{IsError: true}}}
	if !AnyErrors(bad) {
		t.Error("expected an error")
	}
}
