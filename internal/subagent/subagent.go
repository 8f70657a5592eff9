// Package subagent implements depth-limited agent delegation: a tool
// that spawns a child agent loop against its own session tree, forwards the
// child's event stream to the parent's event bus tagged with the spawning
// call, and folds the child's final text back as the tool's result.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/internal/agentloop"
	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/sessionstore"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

// DefaultMaxDepth bounds sub-agent recursion: a spawned child's own copy of
// this tool (if any) refuses to spawn a grandchild once depth reaches this
// limit.
const DefaultMaxDepth = 1

type depthKey struct{}

// WithDepth records the current sub-agent nesting depth on ctx. Absent means
// depth 0 (a top-level run).
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFromContext returns the current nesting depth, 0 if unset.
func DepthFromContext(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// SpawnInput is the spawn tool's parameter shape: a single task prompt for
// the child agent to pursue.
type SpawnInput struct {
	Task string `json:"task"`
}

// Definition configures a child agent run: everything the spawn tool needs
// besides the parent's live session. Value snapshots only, never a live
// handle into the parent's running loop.
type Definition struct {
	Name         string
	SystemPrompt string
	Model        string
	MaxDepth     int
}

// SpawnTool is registered into a parent agent's tool registry under its own
// name; a child's registry never receives a copy of the same tool unless
// MaxDepth allows a further level of delegation.
type SpawnTool struct {
	def       Definition
	provider  providers.Provider
	childTools *tools.Registry
	bus       *eventbus.Bus
	loopConfig *agentloop.Config

	spawned int64
}

// New builds a SpawnTool. childTools is the tool set available to the
// spawned child — by construction it must not include this same SpawnTool,
// since the caller is responsible for building a registry scoped to the
// child's permitted depth.
func New(def Definition, provider providers.Provider, childTools *tools.Registry, bus *eventbus.Bus, loopConfig *agentloop.Config) *SpawnTool {
	if def.MaxDepth <= 0 {
		def.MaxDepth = DefaultMaxDepth
	}
	return &SpawnTool{def: def, provider: provider, childTools: childTools, bus: bus, loopConfig: loopConfig}
}

func (t *SpawnTool) Name() string { return "spawn_subagent" }

func (t *SpawnTool) Description() string {
	return "Delegates a focused task to a fresh sub-agent and returns its final answer."
}

func (t *SpawnTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["task"],"properties":{"task":{"type":"string","description":"the task for the sub-agent to complete"}}}`)
}

// Execute spawns a child run, blocks until it finishes, and returns its
// final assistant text as the tool result. A child crash is surfaced as a
// tool error rather than propagated; the parent keeps running.
func (t *SpawnTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	depth := DepthFromContext(ctx)
	if depth >= t.def.MaxDepth {
		return &models.ToolResult{Content: "maximum sub-agent delegation depth reached", IsError: true}, nil
	}

	var in SpawnInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if in.Task == "" {
		return &models.ToolResult{Content: "task must not be empty", IsError: true}, nil
	}

	// The dispatching loop tags its session id and the triggering call id
	// onto the tool context; both flow into the forwarded-event envelope.
	parentSessionID, _ := agentloop.ParentSessionFromContext(ctx)
	parentCallID, _ := tools.CallIDFromContext(ctx)

	n := atomic.AddInt64(&t.spawned, 1)
	subSessionID := fmt.Sprintf("sub-%s-%d", uuid.NewString(), n)

	tree := sessionstore.New(subSessionID)
	cfg := *t.loopConfig
	if t.def.Model != "" {
		cfg.Model = t.def.Model
	}
	if t.def.SystemPrompt != "" {
		cfg.SystemPrompt = t.def.SystemPrompt
	}

	loop := agentloop.New(tree, t.provider, t.childTools, t.bus, &cfg)

	subCtx := WithDepth(ctx, depth+1)

	forwardCtx, cancelForward := context.WithCancel(subCtx)
	defer cancelForward()
	sub := t.bus.Subscribe(forwardCtx, subSessionID)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go t.forward(parentSessionID, parentCallID, subSessionID, depth+1, sub, done)

	msg := models.NewMessage(subSessionID, "", models.RoleUser)
	msg.Content = in.Task

	runErr := loop.Run(subCtx, msg)
	cancelForward()
	<-done

	if runErr != nil {
		return nil, fmt.Errorf("sub-agent crashed: %w", runErr)
	}

	path := tree.GetPath()
	var finalText string
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == models.RoleAssistant {
			finalText = path[i].Content
			break
		}
	}
	return &models.ToolResult{Content: finalText}, nil
}

// forward relays every event from a child run's subscription to the parent
// session's subscribers, wrapped in a SubAgentEventPayload, until the
// subscription closes. If no parent session was tagged on the context (a
// spawn with no attribution target), events are broadcast under the child's
// own session id as a fallback so they are still observable.
func (t *SpawnTool) forward(parentSessionID, parentCallID, subSessionID string, depth int, sub *eventbus.Subscription, done chan struct{}) {
	defer close(done)
	target := parentSessionID
	if target == "" {
		target = subSessionID
	}
	for env := range sub.Events() {
		inner := env.Event
		wrapped := models.AgentEvent{
			Version:  1,
			Type:     models.AgentEventSubAgent,
			Time:     time.Now(),
			Sequence: inner.Sequence,
			RunID:    inner.RunID,
			SubAgent: &models.SubAgentEventPayload{
				ParentCallID: parentCallID,
				SubSessionID: subSessionID,
				SubRunID:     inner.RunID,
				Depth:        depth,
				Inner:        &inner,
			},
		}
		t.bus.Broadcast(target, wrapped)
	}
}
