package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentcore/runtime/internal/agentloop"
	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

// HandoffInput is the handoff tool's parameter shape. TargetAgentID is an
// explicit choice that bypasses routing; when omitted, the manifest's
// keyword/pattern/always/fallback rules for the current agent decide the
// target via Route.
type HandoffInput struct {
	TargetAgentID string `json:"target_agent_id,omitempty"`
	Task          string `json:"task"`
}

// HandoffTool lets an agent configured from a MultiAgentConfig manifest
// transfer a task to one of its manifest-declared peers, either by naming
// the peer directly or by letting Route pick one from the manifest's
// handoff rules. It delegates the actual child run to the same machinery
// SpawnTool uses — a handoff is a depth-limited spawn with its target and
// prompt derived from the manifest instead of being the caller's choice.
type HandoffTool struct {
	fromAgentID string
	cfg         *MultiAgentConfig
	provider    providers.Provider
	childTools  *tools.Registry
	bus         *eventbus.Bus
	loopConfig  *agentloop.Config
}

// NewHandoffTool builds a HandoffTool scoped to the agent fromAgentID within
// cfg. Routing uses the HandoffRules of the agent named fromAgentID (an
// unknown agent or an empty rule set means Route always returns "").
func NewHandoffTool(fromAgentID string, cfg *MultiAgentConfig, provider providers.Provider, childTools *tools.Registry, bus *eventbus.Bus, loopConfig *agentloop.Config) *HandoffTool {
	return &HandoffTool{fromAgentID: fromAgentID, cfg: cfg, provider: provider, childTools: childTools, bus: bus, loopConfig: loopConfig}
}

func (t *HandoffTool) Name() string { return "handoff" }

func (t *HandoffTool) Description() string {
	return "Transfers the current task to another agent defined in the multi-agent manifest."
}

func (t *HandoffTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["task"],"properties":{
		"target_agent_id":{"type":"string","description":"manifest agent id to hand off to; omit to let routing rules decide"},
		"task":{"type":"string","description":"the task or message to hand the target agent"}
	}}`)
}

// Execute resolves a target agent (explicit or routed) and runs it as a
// depth-limited child via SpawnTool's machinery, returning its final text.
func (t *HandoffTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var in HandoffInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if in.Task == "" {
		return &models.ToolResult{Content: "task must not be empty", IsError: true}, nil
	}

	targetID := in.TargetAgentID
	if targetID == "" {
		targetID, _ = Route(t.cfg, t.fromAgentID, in.Task)
	}
	if targetID == "" {
		return &models.ToolResult{Content: "no handoff target matched and none was specified", IsError: true}, nil
	}

	target, ok := t.cfg.Find(targetID)
	if !ok {
		return &models.ToolResult{Content: fmt.Sprintf("unknown handoff target agent %q", targetID), IsError: true}, nil
	}
	if !target.CanReceiveHandoffs {
		return &models.ToolResult{Content: fmt.Sprintf("agent %q does not accept handoffs", targetID), IsError: true}, nil
	}

	spawn := New(Definition{
		Name:         target.Name,
		SystemPrompt: target.SystemPrompt,
		Model:        target.Model,
		MaxDepth:     t.cfg.MaxHandoffDepth,
	}, t.provider, t.childTools, t.bus, t.loopConfig)

	spawnInput, err := json.Marshal(SpawnInput{Task: in.Task})
	if err != nil {
		return nil, fmt.Errorf("subagent: marshal handoff spawn input: %w", err)
	}
	return spawn.Execute(ctx, spawnInput)
}
