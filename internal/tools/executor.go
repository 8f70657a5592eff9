package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/pkg/models"
)

// ExecutorConfig tunes the concurrent dispatcher.
type ExecutorConfig struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns sane defaults: five calls in flight at once,
// a 30s per-call ceiling.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{MaxConcurrency: 5, DefaultTimeout: 30 * time.Second}
}

// MetricsRecorder is the subset of internal/metrics.Collector's interface
// the executor needs. Declared here rather than importing internal/metrics
// directly so this package stays decoupled from the observability stack's
// concrete implementation, matching the same decoupling bridgeToolDescriptors
// keeps between internal/tools and internal/providers.
type MetricsRecorder interface {
	RecordToolExecution(toolName, outcome string, d time.Duration)
}

// Executor dispatches a batch of tool calls concurrently, bounded by a
// semaphore, isolating panics per-call and preserving the input call order
// in its results slice regardless of completion order.
type Executor struct {
	registry *Registry
	config   *ExecutorConfig
	sem      chan struct{}
	metrics  MetricsRecorder
	tracer   telemetry.SpanStarter
}

// NewExecutor builds an Executor around registry. A nil config uses
// DefaultExecutorConfig.
func NewExecutor(registry *Registry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &Executor{registry: registry, config: config, sem: make(chan struct{}, config.MaxConcurrency)}
}

// SetMetrics attaches a metrics recorder; every subsequent call is
// instrumented with its outcome and latency. A nil recorder (the default)
// disables instrumentation entirely.
func (e *Executor) SetMetrics(m MetricsRecorder) { e.metrics = m }

// SetTracer attaches a span starter; every subsequent call is wrapped in a
// tool.<name> span. A nil tracer (the default) disables span creation.
func (e *Executor) SetTracer(t telemetry.SpanStarter) { e.tracer = t }

// ExecutionResult is the outcome of dispatching a single call.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *models.ToolResult
	Error      error
	Duration   time.Duration
}

// OnStatusUpdate is invoked for intermediate progress from a StreamingTool;
// the agentloop package wires this to emit tool-output stream events
// without the executor itself knowing about the event bus.
type OnStatusUpdate func(callID string, update StatusUpdate)

// ExecuteAll runs every call in calls concurrently (bounded by
// MaxConcurrency) and returns results in the same order as calls: callers
// never need to re-sort by completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall, onUpdate OnStatusUpdate) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.execute(ctx, tc, onUpdate)
		}(i, call)
	}
	wg.Wait()
	return results
}

// execute runs a single call, acquiring a semaphore slot first so a burst of
// parallel tool calls never exceeds MaxConcurrency in-flight executions.
func (e *Executor) execute(ctx context.Context, call models.ToolCall, onUpdate OnStatusUpdate) *ExecutionResult {
	start := time.Now()
	res := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	if e.tracer != nil {
		var spanErr error
		var end telemetry.SpanEnder
		ctx, end = e.tracer.StartSpan(ctx, telemetry.SpanName("tool", call.Name), attribute.String("tool.call_id", call.ID))
		defer func() { end(&spanErr) }()
		defer func() {
			if res.Error != nil {
				spanErr = res.Error
			}
		}()
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		res.Error = NewToolError(call.Name, ctx.Err()).WithType(ToolErrorCancelled).WithToolCallID(call.ID)
		res.Duration = time.Since(start)
		return res
	}

	timeout := e.config.DefaultTimeout
	execCtx, cancel := context.WithTimeout(WithCallID(ctx, call.ID), timeout)
	defer cancel()

	result, err := e.executeIsolated(execCtx, call, onUpdate)
	res.Duration = time.Since(start)

	if err != nil {
		res.Error = err
		if e.metrics != nil {
			e.metrics.RecordToolExecution(call.Name, executionOutcome(err), res.Duration)
		}
		return res
	}
	if result != nil && result.ToolCallID == "" {
		result.ToolCallID = call.ID
	}
	res.Result = result
	if e.metrics != nil {
		outcome := "ok"
		if result != nil && result.IsError {
			outcome = "error"
		}
		e.metrics.RecordToolExecution(call.Name, outcome, res.Duration)
	}
	return res
}

// executionOutcome maps a dispatch-level error to the label this package's
// metrics use, falling back to "error" for anything not otherwise classified.
func executionOutcome(err error) string {
	te, ok := GetToolError(err)
	if !ok {
		return "error"
	}
	switch te.Type {
	case ToolErrorPanic:
		return "crashed"
	case ToolErrorTimeout:
		return "timeout"
	case ToolErrorCancelled:
		return "cancelled"
	case ToolErrorNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// executeIsolated runs one call on its own goroutine so a panic inside a
// tool implementation never takes down the agent loop: it is recovered and
// converted into a crashed-tool ToolError instead.
func (e *Executor) executeIsolated(ctx context.Context, call models.ToolCall, onUpdate OnStatusUpdate) (*models.ToolResult, error) {
	type outcome struct {
		result *models.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID).
					WithMessage(fmt.Sprintf("crashed: %v", r))
				done <- outcome{err: err}
			}
		}()

		tool, ok := e.registry.Get(call.Name)
		if !ok {
			done <- outcome{result: &models.ToolResult{Content: "tool not found: " + call.Name, IsError: true}}
			return
		}
		if len(call.Input) > MaxParamsSize {
			done <- outcome{result: &models.ToolResult{Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxParamsSize), IsError: true}}
			return
		}
		if err := e.registry.validate(call.Name, call.Input); err != nil {
			done <- outcome{result: &models.ToolResult{Content: err.Error(), IsError: true}}
			return
		}

		var result *models.ToolResult
		var err error
		if st, streaming := tool.(StreamingTool); streaming && onUpdate != nil {
			result, err = st.ExecuteStreaming(ctx, call.Input, func(u StatusUpdate) { onUpdate(call.ID, u) })
		} else {
			result, err = tool.Execute(ctx, call.Input)
		}
		if err != nil {
			done <- outcome{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		done <- outcome{result: result}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		if parentErr := ctx.Err(); parentErr == context.DeadlineExceeded {
			return nil, NewToolError(call.Name, ErrToolTimeout).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage(fmt.Sprintf("execution timed out after %s", e.config.DefaultTimeout))
		}
		return nil, NewToolError(call.Name, ctx.Err()).WithType(ToolErrorCancelled).WithToolCallID(call.ID)
	}
}

// ResultsToMessages converts execution results into tool_result messages,
// synthesizing an error message for any call whose execution never
// produced a result — unknown tool, crash, or timeout alike all still
// yield exactly one tool_result per call.
func ResultsToMessages(sessionID, branchID string, results []*ExecutionResult) []*models.Message {
	out := make([]*models.Message, len(results))
	for i, r := range results {
		m := models.NewMessage(sessionID, branchID, models.RoleToolResult)
		m.ToolCallID = r.ToolCallID
		if r.Error != nil {
			m.Content = r.Error.Error()
			m.IsError = true
		} else if r.Result != nil {
			m.Content = r.Result.Content
			m.IsError = r.Result.IsError
		}
		out[i] = m
	}
	return out
}

// AnyErrors reports whether any result in results failed.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil || (r.Result != nil && r.Result.IsError) {
			return true
		}
	}
	return false
}
