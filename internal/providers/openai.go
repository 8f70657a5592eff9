package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/runtime/pkg/models"
)

// OpenAIConfig configures an OpenAIProvider. BaseURL lets this same provider
// serve any OpenAI-compatible completions endpoint.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	// OAuth, if set, authenticates every request with a refreshed bearer
	// token instead of APIKey — for gateways that front the completions API
	// behind OAuth2 rather than a static key.
	OAuth *OAuthTokenConfig
}

// OpenAIProvider implements Provider against the OpenAI chat-completions
// streaming API (and OpenAI-compatible gateways).
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider builds a provider from the given config.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.OAuth != nil {
		refresher := NewTokenRefresher(context.Background(), *cfg.OAuth)
		baseClient, ok := clientCfg.HTTPClient.(*http.Client)
		if !ok {
			baseClient = &http.Client{}
		}
		clientCfg.HTTPClient = WithOAuthTransport(baseClient, refresher)
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return openai.GPT4o
}

// openaiChunk is this provider's wire interchange format, mirroring the
// fields go-openai's ChatCompletionStreamResponse exposes per delta.
type openaiChunk struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	CallID       string `json:"call_id,omitempty"`
	CallIndex    int    `json:"call_index,omitempty"`
	Name         string `json:"name,omitempty"`
	Arguments    string `json:"arguments,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

func (p *OpenAIProvider) Stream(ctx context.Context, model string, messages []*models.Message, tools []ToolDescriptor, system string, opts StreamOptions) (*StreamHandle, error) {
	wireMsgs, err := p.convertMessages(messages, system)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model(model),
		Messages: wireMsgs,
		Stream:   true,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if len(tools) > 0 {
		req.Tools = p.convertToolsParam(tools)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := p.client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, NewProviderError(p.Name(), model, err)
	}

	chunks := make(chan []byte, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer cancel()
		defer stream.Close()

		var toolNames = map[int]string{}
		for {
			resp, serr := stream.Recv()
			if errors.Is(serr, io.EOF) {
				b, _ := json.Marshal(openaiChunk{Type: "response_done"})
				select {
				case chunks <- b:
				case <-streamCtx.Done():
				}
				return
			}
			if serr != nil {
				select {
				case errs <- NewProviderError(p.Name(), model, serr):
				default:
				}
				return
			}

			for _, c := range translateOpenAIResponse(resp, toolNames) {
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
		}
	}()

	return &StreamHandle{Chunks: chunks, Err: errs, Cancel: cancel}, nil
}

func translateOpenAIResponse(resp openai.ChatCompletionStreamResponse, toolNames map[int]string) []openaiChunk {
	if len(resp.Choices) == 0 {
		if resp.Usage != nil {
			return []openaiChunk{{Type: "usage", InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}}
		}
		return nil
	}

	choice := resp.Choices[0]
	var out []openaiChunk

	if choice.Delta.Content != "" {
		out = append(out, openaiChunk{Type: "text_delta", Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		if tc.ID != "" {
			toolNames[idx] = tc.Function.Name
			out = append(out, openaiChunk{Type: "tool_call_start", CallID: tc.ID, CallIndex: idx, Name: tc.Function.Name})
		}
		if tc.Function.Arguments != "" {
			out = append(out, openaiChunk{Type: "tool_call_delta", CallIndex: idx, Arguments: tc.Function.Arguments})
		}
	}
	if choice.FinishReason != "" {
		if choice.FinishReason == "tool_calls" {
			for idx := range toolNames {
				out = append(out, openaiChunk{Type: "tool_call_done", CallIndex: idx})
			}
		}
	}
	return out
}

func (p *OpenAIProvider) ParseStreamEvent(raw []byte) ([]StreamEvent, error) {
	var c openaiChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("providers: decode openai chunk: %w", err)
	}

	switch c.Type {
	case "text_delta":
		return []StreamEvent{{Type: EventTextDelta, Text: c.Text}}, nil
	case "tool_call_start":
		return []StreamEvent{{Type: EventToolCallStart, CallID: c.CallID, CallIndex: c.CallIndex, Name: c.Name}}, nil
	case "tool_call_delta":
		return []StreamEvent{{Type: EventToolCallDelta, CallIndex: c.CallIndex, Delta: c.Arguments}}, nil
	case "tool_call_done":
		return []StreamEvent{{Type: EventToolCallDone, CallIndex: c.CallIndex}}, nil
	case "usage":
		return []StreamEvent{{Type: EventUsage, Usage: &Usage{InputTokens: c.InputTokens, OutputTokens: c.OutputTokens}}}, nil
	case "response_done":
		return []StreamEvent{{Type: EventResponseDone}}, nil
	default:
		return nil, nil
	}
}

func (p *OpenAIProvider) ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error) {
	wire, err := p.convertMessages(messages, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func (p *OpenAIProvider) convertMessages(messages []*models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case models.RoleAssistant:
			asst := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, asst)
		case models.RoleToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out, nil
}

func (p *OpenAIProvider) ConvertTools(tools []ToolDescriptor) (json.RawMessage, error) {
	return json.Marshal(p.convertToolsParam(tools))
}

func (p *OpenAIProvider) convertToolsParam(tools []ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var params any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &params)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}
