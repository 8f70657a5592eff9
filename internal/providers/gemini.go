package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/agentcore/runtime/pkg/models"
)

// GeminiConfig configures a GeminiProvider against Google's Generative
// Language API.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiProvider implements Provider against Gemini's generateContent
// streaming API.
type GeminiProvider struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiProvider builds a provider from the given config.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, cfg: cfg}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return "gemini-2.5-pro"
}

type geminiChunk struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	CallID       string `json:"call_id,omitempty"`
	CallIndex    int    `json:"call_index,omitempty"`
	Name         string `json:"name,omitempty"`
	Arguments    string `json:"arguments,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

func (p *GeminiProvider) Stream(ctx context.Context, model string, messages []*models.Message, tools []ToolDescriptor, system string, opts StreamOptions) (*StreamHandle, error) {
	contents, err := p.convertMessagesTyped(messages)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if len(tools) > 0 {
		config.Tools = p.convertToolsTyped(tools)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	iterSeq := p.client.Models.GenerateContentStream(streamCtx, p.model(model), contents, config)

	chunks := make(chan []byte, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer cancel()

		callIdx := 0
		iterSeq(func(resp *genai.GenerateContentResponse, iterErr error) bool {
			if iterErr != nil {
				select {
				case errs <- NewProviderError(p.Name(), model, iterErr):
				default:
				}
				return false
			}
			for _, c := range translateGeminiResponse(resp, &callIdx) {
				b, merr := json.Marshal(c)
				if merr != nil {
					continue
				}
				select {
				case chunks <- b:
				case <-streamCtx.Done():
					return false
				}
			}
			return true
		})

		b, _ := json.Marshal(geminiChunk{Type: "response_done"})
		select {
		case chunks <- b:
		case <-streamCtx.Done():
		}
	}()

	return &StreamHandle{Chunks: chunks, Err: errs, Cancel: cancel}, nil
}

func translateGeminiResponse(resp *genai.GenerateContentResponse, callIdx *int) []geminiChunk {
	var out []geminiChunk
	if resp.UsageMetadata != nil {
		out = append(out, geminiChunk{
			Type:         "usage",
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		})
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				out = append(out, geminiChunk{Type: "text_delta", Text: part.Text})
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				idx := *callIdx
				*callIdx++
				out = append(out, geminiChunk{Type: "tool_call_start", CallID: fmt.Sprintf("call_%d", idx), CallIndex: idx, Name: part.FunctionCall.Name})
				out = append(out, geminiChunk{Type: "tool_call_delta", CallIndex: idx, Arguments: string(args)})
				out = append(out, geminiChunk{Type: "tool_call_done", CallIndex: idx})
			}
		}
	}
	return out
}

func (p *GeminiProvider) ParseStreamEvent(raw []byte) ([]StreamEvent, error) {
	var c geminiChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("providers: decode gemini chunk: %w", err)
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

func (p *GeminiProvider) ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error) {
	contents, err := p.convertMessagesTyped(messages)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contents)
}

func (p *GeminiProvider) convertMessagesTyped(messages []*models.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range messages {
		content := &genai.Content{}
		switch m.Role {
		case models.RoleUser:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		case models.RoleAssistant:
			content.Role = genai.RoleModel
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Input, &args)
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
			}
		case models.RoleToolResult:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     m.ToolCallID,
				Response: map[string]any{"result": m.Content},
			}})
		default:
			continue
		}
		out = append(out, content)
	}
	return out, nil
}

func (p *GeminiProvider) ConvertTools(tools []ToolDescriptor) (json.RawMessage, error) {
	return json.Marshal(p.convertToolsTyped(tools))
}

func (p *GeminiProvider) convertToolsTyped(tools []ToolDescriptor) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema *genai.Schema
		if len(t.Parameters) > 0 {
			schema = &genai.Schema{}
			_ = json.Unmarshal(t.Parameters, schema)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
