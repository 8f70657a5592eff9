// Package providers defines the normalized streaming provider contract:
// the core never inspects wire JSON, so the agent loop is identical
// whether the upstream is a completions API or a responses API. Individual
// backends (Anthropic, OpenAI-compatible, Bedrock, Gemini) each parse their
// own wire dialect down to a common StreamEvent sequence.
package providers

import (
	"context"
	"encoding/json"

	"github.com/agentcore/runtime/pkg/models"
)

// ToolDescriptor is the provider-agnostic shape of a tool the model may
// call: name, description, and a JSON-Schema fragment for its parameters.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StreamOptions carries generation parameters that aren't part of the
// conversation itself.
type StreamOptions struct {
	MaxTokens            int
	Temperature          float64
	EnableThinking        bool
	ThinkingBudgetTokens int
}

// Usage reports token accounting for a request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CacheReadTokens  int
	CacheWriteTokens int
}

// StreamHandle is returned by Stream: Chunks delivers raw provider wire
// frames as they arrive (parsed by the same provider's ParseStreamEvent),
// Err surfaces a terminal transport-level failure, and Cancel aborts the
// underlying request. A closed Chunks channel with no error means the
// stream ended cleanly: the terminal semantic event (response_done) is
// itself delivered through Chunks like any other frame.
type StreamHandle struct {
	Chunks <-chan []byte
	Err    <-chan error
	Cancel context.CancelFunc
}

// EventType identifies the kind of normalized stream event.
type EventType string

const (
	EventTextStart       EventType = "text_start"
	EventTextDelta       EventType = "text_delta"
	EventTextDone        EventType = "text_done"
	EventThinkingStart   EventType = "thinking_start"
	EventThinkingDelta   EventType = "thinking_delta"
	EventToolCallStart   EventType = "tool_call_start"
	EventToolCallDelta   EventType = "tool_call_delta"
	EventToolCallDone    EventType = "tool_call_done"
	EventResponseDone    EventType = "response_done"
	EventUsage           EventType = "usage"
	EventError           EventType = "error"
)

// StreamEvent is the normalized, provider-agnostic union emitted by
// ParseStreamEvent. Exactly the fields relevant to Type are populated.
type StreamEvent struct {
	Type EventType

	// text_delta / text_done
	Text string

	// thinking_delta
	Thinking string

	// tool_call_start / tool_call_delta / tool_call_done. CallIndex is the
	// provider's positional slot for delta routing when two parallel tool
	// calls interleave; accumulation in the agent loop keys on CallID, not
	// position, once the call is known.
	CallID    string
	CallIndex int
	Name      string
	Delta     string
	Arguments json.RawMessage

	Usage *Usage

	Err error
}

// Provider is the contract every LLM backend implements. The core never
// inspects provider wire formats directly; it only ever sees StreamEvent.
type Provider interface {
	// Name identifies the provider for logging, error messages, and the
	// RPC models/list surface.
	Name() string

	// Stream initiates a streaming completion request. The handle delivers
	// raw chunks asynchronously; ParseStreamEvent turns each chunk into zero
	// or more normalized events.
	Stream(ctx context.Context, model string, messages []*models.Message, tools []ToolDescriptor, system string, opts StreamOptions) (*StreamHandle, error)

	// ParseStreamEvent normalizes one raw wire chunk into an ordered list of
	// semantic events. Implementations must be side-effect free.
	ParseStreamEvent(raw []byte) ([]StreamEvent, error)

	// ConvertMessages renders the branching-tree path into this provider's
	// wire message format.
	ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error)

	// ConvertTools renders tool descriptors into this provider's wire tool
	// format.
	ConvertTools(tools []ToolDescriptor) (json.RawMessage, error)
}

// Registry resolves a provider implementation by name (the provider tag in
// a session's model config).
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names lists every registered provider name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}
