package models

import (
	"time"
)

// AgentEvent is the unified event envelope broadcast on the session bus: one
// stream drives UI rendering, RPC notification forwarding, and logging.
//
// Versioned and forward-compatible (add fields, don't rename or remove), with
// a single Type discriminator, optional payload pointers, and a monotonic
// Sequence for per-broadcaster ordering.
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// RunID identifies the agent run.
	RunID string `json:"run_id,omitempty"`

	// TurnIndex is the 0-based turn number within the run.
	TurnIndex int `json:"turn_index,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Tool       *ToolEventPayload       `json:"tool,omitempty"`
	Stream     *StreamEventPayload     `json:"stream,omitempty"`
	Error      *ErrorEventPayload      `json:"error,omitempty"`
	Steering   *SteeringEventPayload   `json:"steering,omitempty"`
	Compaction *CompactionEventPayload `json:"compaction,omitempty"`
	SubAgent   *SubAgentEventPayload   `json:"sub_agent,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// Run lifecycle
	AgentEventRunStarted   AgentEventType = "run.started"
	AgentEventRunFinished  AgentEventType = "run.finished"
	AgentEventRunError     AgentEventType = "run.error"
	AgentEventRunCancelled AgentEventType = "run.cancelled" // Explicit abort or context cancellation

	// Turn lifecycle
	AgentEventTurnStarted  AgentEventType = "turn.started"
	AgentEventTurnFinished AgentEventType = "turn.finished"

	// Model streaming
	AgentEventModelDelta     AgentEventType = "model.delta"
	AgentEventThinkingDelta  AgentEventType = "model.thinking_delta"
	AgentEventModelCompleted AgentEventType = "model.completed"

	// Tool execution and streamed tool output
	AgentEventToolStarted  AgentEventType = "tool.started"
	AgentEventToolStdout   AgentEventType = "tool.stdout"
	AgentEventToolFinished AgentEventType = "tool.finished"

	// Compaction lifecycle
	AgentEventCompactionStarted  AgentEventType = "compaction.started"
	AgentEventCompactionFinished AgentEventType = "compaction.finished"

	// Steering message(s) appended at a turn boundary
	AgentEventSteeringInjected AgentEventType = "steering.injected"

	// Sub-agent forwarding: an inner event from a spawned child run, tagged
	// with the parent tool call that spawned it.
	AgentEventSubAgent AgentEventType = "sub_agent.event"
)

// StreamEventPayload represents model streaming deltas and completion metadata.
type StreamEventPayload struct {
	// Delta is the incremental text (token-by-token or chunked).
	Delta string `json:"delta,omitempty"`

	// Final is optional final text on completion events.
	Final string `json:"final,omitempty"`

	// Provider/Model for debugging (optional).
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Token counts (optional; not all providers supply them).
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ToolEventPayload describes tool calls and their streamed outputs.
// Args/Result are opaque []byte to avoid coupling to tool schemas.
type ToolEventPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id,omitempty"`

	// Name is the tool name.
	Name string `json:"name,omitempty"`

	// ArgsJSON is the raw JSON arguments (for started events).
	ArgsJSON []byte `json:"args_json,omitempty"`

	// Chunk is streamed intermediate output (for stdout events).
	Chunk string `json:"chunk,omitempty"`

	// For finished events:
	Success    bool          `json:"success,omitempty"`
	ResultJSON []byte        `json:"result_json,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
}

// ErrorEventPayload standardizes errors for streaming subscribers.
type ErrorEventPayload struct {
	// Message is the error description (required).
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Retriable indicates if the operation can be retried.
	Retriable bool `json:"retriable,omitempty"`

	// Err is the original error (runtime only, not serialized).
	// Used to preserve error types for errors.Is/errors.As.
	Err error `json:"-"`
}

// SteeringEventPayload describes steering messages consumed at a turn
// boundary.
type SteeringEventPayload struct {
	// Content is the text of a single steering message, when relevant.
	Content string `json:"content,omitempty"`

	// Count is the number of messages injected.
	Count int `json:"count,omitempty"`
}

// CompactionEventPayload reports a compaction pass's before/after shape.
type CompactionEventPayload struct {
	MessagesBeforeCompaction int  `json:"messages_before_compaction"`
	MessagesAfterCompaction  int  `json:"messages_after_compaction,omitempty"`
	TokensEstimateBefore     int  `json:"tokens_estimate_before"`
	TokensEstimateAfter      int  `json:"tokens_estimate_after,omitempty"`
	UsedSummary              bool `json:"used_summary,omitempty"`
	Forced                   bool `json:"forced,omitempty"` // true when triggered by context-overflow
}

// SubAgentEventPayload wraps an inner event emitted by a spawned child run.
type SubAgentEventPayload struct {
	ParentCallID string      `json:"parent_call_id"`
	SubSessionID string      `json:"sub_session_id"`
	SubRunID     string      `json:"sub_run_id"`
	Depth        int         `json:"depth"`
	Inner        *AgentEvent `json:"inner"`
}
