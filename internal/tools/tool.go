// Package tools implements the tool-call execution surface: registration,
// JSON-Schema parameter validation, and concurrent crash-isolated dispatch
// that preserves input order in its results.
package tools

import (
	"context"
	"encoding/json"

	"github.com/agentcore/runtime/pkg/models"
)

// StatusUpdate is an intermediate progress notification a long-running tool
// may emit before its final result; the executor forwards these as
// streamed status events rather than buffering them.
type StatusUpdate struct {
	Message string
	Detail  json.RawMessage
}

// Tool is anything the agent loop can dispatch a call to. Implementations
// should be safe for concurrent use: the executor may run several distinct
// tool calls against the same Tool value in parallel.
type Tool interface {
	Name() string
	Description() string
	// ParametersSchema returns this tool's JSON-Schema parameter fragment,
	// used both to advertise the tool to providers and to validate incoming
	// calls before Execute runs.
	ParametersSchema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error)
}

// StreamingTool is implemented by tools that want to report progress before
// their final result is ready. The executor only type-asserts for this; a
// plain Tool that does not implement it simply never streams.
type StreamingTool interface {
	Tool
	ExecuteStreaming(ctx context.Context, input json.RawMessage, onUpdate func(StatusUpdate)) (*models.ToolResult, error)
}

type callIDKey struct{}

// WithCallID tags ctx with the id of the tool call being dispatched. The
// executor sets this before invoking Execute, so a tool that spawns further
// work (a sub-agent, a background task) can attribute that work to the call
// that requested it.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey{}, callID)
}

// CallIDFromContext returns the id set by WithCallID, if any.
func CallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDKey{}).(string)
	return id, ok
}
