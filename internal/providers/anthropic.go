package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentcore/runtime/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider implements Provider against Anthropic's Messages API
// using the official SDK's streaming client.
type AnthropicProvider struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicProvider builds a provider from the given config.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return "claude-sonnet-4-5"
}

// anthropicChunk is this provider's self-defined wire interchange format:
// Stream marshals each SDK SSE event down to one of these, and
// ParseStreamEvent is the only place that understands the shape, keeping
// the wire dialect confined to this file.
type anthropicChunk struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	Thinking     string          `json:"thinking,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
	CallIndex    int             `json:"call_index,omitempty"`
	Name         string          `json:"name,omitempty"`
	PartialJSON  string          `json:"partial_json,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (p *AnthropicProvider) Stream(ctx context.Context, model string, messages []*models.Message, tools []ToolDescriptor, system string, opts StreamOptions) (*StreamHandle, error) {
	wireMsgs, err := p.convertMessages(messages)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}
	wireTools, err := p.convertToolsParam(tools)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(model)),
		MaxTokens: int64(maxTokensOrDefault(opts.MaxTokens)),
		Messages:  wireMsgs,
		Tools:     wireTools,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.EnableThinking {
		budget := int64(opts.ThinkingBudgetTokens)
		if budget <= 0 {
			budget = 8192
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := p.client.Messages.NewStreaming(streamCtx, params)

	chunks := make(chan []byte, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer cancel()
		toolIdx := make(map[int]bool)
		for stream.Next() {
			event := stream.Current()
			c := toAnthropicChunk(event, toolIdx)
			if c == nil {
				continue
			}
			b, merr := json.Marshal(c)
			if merr != nil {
				continue
			}
			select {
			case chunks <- b:
			case <-streamCtx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case errs <- NewProviderError(p.Name(), model, err):
			default:
			}
		}
	}()

	return &StreamHandle{Chunks: chunks, Err: errs, Cancel: cancel}, nil
}

// toAnthropicChunk translates one SDK SSE event into our wire interchange
// chunk. toolIdx remembers which content block indices are tool_use blocks,
// so the content_block_stop for a text or thinking block never reads as a
// finished tool call downstream.
func toAnthropicChunk(event anthropic.MessageStreamEventUnion, toolIdx map[int]bool) *anthropicChunk {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if tu := variant.ContentBlock.AsAny(); tu != nil {
			if block, ok := tu.(anthropic.ToolUseBlock); ok {
				toolIdx[int(variant.Index)] = true
				return &anthropicChunk{Type: "tool_call_start", CallID: block.ID, CallIndex: int(variant.Index), Name: block.Name}
			}
		}
		return &anthropicChunk{Type: "text_start"}
	case anthropic.ContentBlockDeltaEvent:
		switch d := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return &anthropicChunk{Type: "text_delta", Text: d.Text}
		case anthropic.ThinkingDelta:
			return &anthropicChunk{Type: "thinking_delta", Thinking: d.Thinking}
		case anthropic.InputJSONDelta:
			return &anthropicChunk{Type: "tool_call_delta", CallIndex: int(variant.Index), PartialJSON: d.PartialJSON}
		}
	case anthropic.ContentBlockStopEvent:
		if toolIdx[int(variant.Index)] {
			return &anthropicChunk{Type: "content_block_stop", CallIndex: int(variant.Index)}
		}
	case anthropic.MessageDeltaEvent:
		return &anthropicChunk{
			Type:         "usage",
			InputTokens:  int(variant.Usage.InputTokens),
			OutputTokens: int(variant.Usage.OutputTokens),
		}
	case anthropic.MessageStopEvent:
		return &anthropicChunk{Type: "response_done"}
	}
	return nil
}

func (p *AnthropicProvider) ParseStreamEvent(raw []byte) ([]StreamEvent, error) {
	var c anthropicChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("providers: decode anthropic chunk: %w", err)
	}

	switch c.Type {
	case "text_start":
		return []StreamEvent{{Type: EventTextStart}}, nil
	case "text_delta":
		return []StreamEvent{{Type: EventTextDelta, Text: c.Text}}, nil
	case "thinking_delta":
		return []StreamEvent{{Type: EventThinkingDelta, Thinking: c.Thinking}}, nil
	case "tool_call_start":
		return []StreamEvent{{Type: EventToolCallStart, CallID: c.CallID, CallIndex: c.CallIndex, Name: c.Name}}, nil
	case "tool_call_delta":
		return []StreamEvent{{Type: EventToolCallDelta, CallIndex: c.CallIndex, Delta: c.PartialJSON}}, nil
	case "content_block_stop":
		// The agent loop finalizes tool_call_done once it has accumulated
		// all deltas for this index; Anthropic signals that boundary with a
		// content_block_stop rather than a distinct "done" frame.
		return []StreamEvent{{Type: EventToolCallDone, CallIndex: c.CallIndex}}, nil
	case "usage":
		return []StreamEvent{{Type: EventUsage, Usage: &Usage{InputTokens: c.InputTokens, OutputTokens: c.OutputTokens}}}, nil
	case "response_done":
		return []StreamEvent{{Type: EventResponseDone}}, nil
	default:
		return nil, nil
	}
}

func (p *AnthropicProvider) ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error) {
	wire, err := p.convertMessages(messages)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func (p *AnthropicProvider) convertMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleSystem:
			// System content is carried in the request's System field, not
			// as a conversation message; skip here.
			continue
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Input, &args)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleToolResult:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		}
	}
	return out, nil
}

func (p *AnthropicProvider) ConvertTools(tools []ToolDescriptor) (json.RawMessage, error) {
	wire, err := p.convertToolsParam(tools)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func (p *AnthropicProvider) convertToolsParam(tools []ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("providers: invalid schema for tool %s: %w", t.Name, err)
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
