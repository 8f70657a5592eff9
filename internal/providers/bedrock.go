package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentcore/runtime/pkg/models"
)

// BedrockConfig configures a BedrockProvider against the AWS Converse API.
type BedrockConfig struct {
	Region       string
	DefaultModel string
}

// BedrockProvider implements Provider against Bedrock's ConverseStream API,
// which normalizes tool use and streaming across every model Bedrock hosts.
type BedrockProvider struct {
	client *bedrockruntime.Client
	cfg    BedrockConfig
}

// NewBedrockProvider loads the default AWS credential chain for the given
// region and builds a provider around it.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("providers: load aws config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg), cfg: cfg}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return "anthropic.claude-sonnet-4-5-v1:0"
}

type bedrockChunk struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	CallID       string `json:"call_id,omitempty"`
	CallIndex    int    `json:"call_index,omitempty"`
	Name         string `json:"name,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

func (p *BedrockProvider) Stream(ctx context.Context, model string, messages []*models.Message, tools []ToolDescriptor, system string, opts StreamOptions) (*StreamHandle, error) {
	wireMsgs, err := p.convertMessagesTyped(messages)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(p.model(model)),
		Messages: wireMsgs,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if len(tools) > 0 {
		toolConfig, terr := p.convertToolsTyped(tools)
		if terr != nil {
			return nil, NewProviderError(p.Name(), model, terr)
		}
		input.ToolConfig = toolConfig
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out, err := p.client.ConverseStream(streamCtx, input)
	if err != nil {
		cancel()
		return nil, NewProviderError(p.Name(), model, err)
	}

	chunks := make(chan []byte, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer cancel()

		stream := out.GetStream()
		defer stream.Close()

		toolIdx := make(map[int]bool)
		for event := range stream.Events() {
			c := bedrockEventToChunk(event, toolIdx)
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

// bedrockEventToChunk translates one ConverseStream event into the wire
// interchange chunk. toolIdx remembers which content block indices carry tool
// use, so a ContentBlockStop for a plain text block is not reported as a
// finished tool call.
func bedrockEventToChunk(event types.ConverseStreamOutput, toolIdx map[int]bool) *bedrockChunk {
	switch v := event.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		if tu, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			idx := int(aws.ToInt32(v.Value.ContentBlockIndex))
			toolIdx[idx] = true
			return &bedrockChunk{Type: "tool_call_start", CallID: aws.ToString(tu.Value.ToolUseId), CallIndex: idx, Name: aws.ToString(tu.Value.Name)}
		}
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		idx := int(aws.ToInt32(v.Value.ContentBlockIndex))
		switch d := v.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return &bedrockChunk{Type: "text_delta", Text: d.Value}
		case *types.ContentBlockDeltaMemberToolUse:
			return &bedrockChunk{Type: "tool_call_delta", CallIndex: idx, PartialJSON: aws.ToString(d.Value.Input)}
		}
	case *types.ConverseStreamOutputMemberContentBlockStop:
		idx := int(aws.ToInt32(v.Value.ContentBlockIndex))
		if toolIdx[idx] {
			return &bedrockChunk{Type: "tool_call_done", CallIndex: idx}
		}
	case *types.ConverseStreamOutputMemberMetadata:
		if v.Value.Usage != nil {
			return &bedrockChunk{
				Type:         "usage",
				InputTokens:  int(aws.ToInt32(v.Value.Usage.InputTokens)),
				OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
			}
		}
	case *types.ConverseStreamOutputMemberMessageStop:
		return &bedrockChunk{Type: "response_done"}
	}
	return nil
}

func (p *BedrockProvider) ParseStreamEvent(raw []byte) ([]StreamEvent, error) {
	var c bedrockChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("providers: decode bedrock chunk: %w", err)
	}
	switch c.Type {
	case "text_delta":
		return []StreamEvent{{Type: EventTextDelta, Text: c.Text}}, nil
	case "tool_call_start":
		return []StreamEvent{{Type: EventToolCallStart, CallID: c.CallID, CallIndex: c.CallIndex, Name: c.Name}}, nil
	case "tool_call_delta":
		return []StreamEvent{{Type: EventToolCallDelta, CallIndex: c.CallIndex, Delta: c.PartialJSON}}, nil
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

func (p *BedrockProvider) ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error) {
	wire, err := p.convertMessagesTyped(messages)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func (p *BedrockProvider) convertMessagesTyped(messages []*models.Message) ([]types.Message, error) {
	var out []types.Message
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			out = append(out, types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}}})
		case models.RoleAssistant:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var doc map[string]any
				_ = json.Unmarshal(tc.Input, &doc)
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(doc),
				}})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
		case models.RoleToolResult:
			status := types.ToolResultStatusSuccess
			if m.IsError {
				status = types.ToolResultStatusError
			}
			out = append(out, types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
					Status:    status,
				},
			}}})
		}
	}
	return out, nil
}

func (p *BedrockProvider) ConvertTools(tools []ToolDescriptor) (json.RawMessage, error) {
	toolConfig, err := p.convertToolsTyped(tools)
	if err != nil {
		return nil, err
	}
	return json.Marshal(toolConfig)
}

func (p *BedrockProvider) convertToolsTyped(tools []ToolDescriptor) (*types.ToolConfiguration, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schemaDoc map[string]any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schemaDoc); err != nil {
				return nil, fmt.Errorf("providers: invalid schema for tool %s: %w", t.Name, err)
			}
		}
		out = append(out, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
		}})
	}
	return &types.ToolConfiguration{Tools: out}, nil
}
