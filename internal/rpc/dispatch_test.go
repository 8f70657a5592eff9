package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/runtime"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

// singleTurnProvider answers every Stream call with one fixed assistant
// reply, analogous to agentloop's scriptedProvider but scoped to what this
// package's dispatch tests need: a provider that finishes a turn without
// any tool calls.
type singleTurnProvider struct{ reply string }

func (p *singleTurnProvider) Name() string { return "fake" }

func (p *singleTurnProvider) Stream(ctx context.Context, model string, messages []*models.Message, toolDescs []providers.ToolDescriptor, system string, opts providers.StreamOptions) (*providers.StreamHandle, error) {
	events := []providers.StreamEvent{
		{Type: providers.EventTextDelta, Text: p.reply},
		{Type: providers.EventResponseDone},
	}
	chunks := make(chan []byte, len(events))
	for _, ev := range events {
		raw, _ := json.Marshal(ev)
		chunks <- raw
	}
	close(chunks)
	return &providers.StreamHandle{Chunks: chunks, Err: make(chan error), Cancel: func() {}}, nil
}

func (p *singleTurnProvider) ParseStreamEvent(raw []byte) ([]providers.StreamEvent, error) {
	var ev providers.StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return []providers.StreamEvent{ev}, nil
}

func (p *singleTurnProvider) ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error) {
	return json.Marshal(messages)
}

func (p *singleTurnProvider) ConvertTools(toolDescs []providers.ToolDescriptor) (json.RawMessage, error) {
	return json.Marshal(toolDescs)
}

func newTestConn(t *testing.T) *rpcConn {
	t.Helper()
	registry := providers.NewRegistry()
	registry.Register(&singleTurnProvider{reply: "hello from the fake provider"})

	manager := runtime.NewManager(eventbus.New(), registry, tools.NewRegistry(), t.TempDir())
	server := NewServer(manager, NewTokenService("test-secret", time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &rpcConn{server: server, ctx: ctx, cancel: cancel, subs: make(map[string]func())}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestDispatch_SessionStartThenPromptSync(t *testing.T) {
	c := newTestConn(t)

	startResult, rerr := c.handleSessionStart(mustMarshal(t, sessionStartParams{
		SessionID: "sess-1",
		Model:     modelParams{ProviderTag: "fake", ModelID: "fake-model"},
	}))
	if rerr != nil {
		t.Fatalf("session/start: %v", rerr)
	}
	started := startResult.(sessionStartResult)
	if started.SessionID != "sess-1" || started.Handle == "" {
		t.Fatalf("unexpected start result: %+v", started)
	}

	promptResult, rerr := c.handleAgentPrompt(mustMarshal(t, agentPromptParams{
		Handle: started.Handle,
		Text:   "hi",
		Sync:   true,
	}))
	if rerr != nil {
		t.Fatalf("agent/prompt: %v", rerr)
	}
	if got := promptResult.(agentPromptResult).Text; got != "hello from the fake provider" {
		t.Fatalf("prompt result text = %q, want the fake provider's reply", got)
	}

	stateResult, rerr := c.handleAgentState(mustMarshal(t, handleParams{Handle: started.Handle}))
	if rerr != nil {
		t.Fatalf("agent/state: %v", rerr)
	}
	if st := stateResult.(agentStateResult); st.Phase != "idle" {
		t.Fatalf("phase = %q, want idle after the run completes", st.Phase)
	}
}

func TestDispatch_SessionStartRejectsDuplicateID(t *testing.T) {
	c := newTestConn(t)
	params := mustMarshal(t, sessionStartParams{SessionID: "dup", Model: modelParams{ProviderTag: "fake", ModelID: "m"}})

	if _, rerr := c.handleSessionStart(params); rerr != nil {
		t.Fatalf("first start: %v", rerr)
	}
	if _, rerr := c.handleSessionStart(params); rerr == nil {
		t.Fatal("expected an error starting a duplicate session id")
	}
}

func TestDispatch_UnknownMethodAbsentFromMethodTable(t *testing.T) {
	var req Request
	if err := json.Unmarshal(mustMarshal(t, Request{JSONRPC: jsonRPCVersion, Method: "bogus/method"}), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	_, ok := methodTable[req.Method]
	if ok {
		t.Fatal("expected bogus/method to be absent from the method table")
	}
}

func TestDispatch_ResolveSessionRejectsInvalidHandle(t *testing.T) {
	c := newTestConn(t)
	if _, rerr := c.resolveSession("not-a-real-token"); rerr == nil || rerr.Code != CodeInvalidParams {
		t.Fatalf("expected CodeInvalidParams for a malformed handle, got %+v", rerr)
	}
}

func TestDispatch_SessionDeleteStopsSession(t *testing.T) {
	c := newTestConn(t)
	startResult, rerr := c.handleSessionStart(mustMarshal(t, sessionStartParams{
		SessionID: "to-delete",
		Model:     modelParams{ProviderTag: "fake", ModelID: "m"},
	}))
	if rerr != nil {
		t.Fatalf("start: %v", rerr)
	}
	handle := startResult.(sessionStartResult).Handle

	if _, rerr := c.handleSessionDelete(mustMarshal(t, handleParams{Handle: handle})); rerr != nil {
		t.Fatalf("delete: %v", rerr)
	}
	if _, rerr := c.handleAgentState(mustMarshal(t, handleParams{Handle: handle})); rerr == nil {
		t.Fatal("expected agent/state against a deleted session to fail")
	}
}
