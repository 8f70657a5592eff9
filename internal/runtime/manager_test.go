package runtime

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

// replayProvider completes each turn with the next scripted reply, never
// issuing tool calls — enough to drive Session's public surface end to end.
type replayProvider struct {
	replies []string
	calls   int
}

func (p *replayProvider) Name() string { return "replay" }

func (p *replayProvider) Stream(ctx context.Context, model string, messages []*models.Message, toolDescs []providers.ToolDescriptor, system string, opts providers.StreamOptions) (*providers.StreamHandle, error) {
	reply := "done"
	if p.calls < len(p.replies) {
		reply = p.replies[p.calls]
	}
	p.calls++

	events := []providers.StreamEvent{
		{Type: providers.EventTextDelta, Text: reply},
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

func (p *replayProvider) ParseStreamEvent(raw []byte) ([]providers.StreamEvent, error) {
	var ev providers.StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return []providers.StreamEvent{ev}, nil
}

func (p *replayProvider) ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error) {
	return json.Marshal(messages)
}

func (p *replayProvider) ConvertTools(toolDescs []providers.ToolDescriptor) (json.RawMessage, error) {
	return json.Marshal(toolDescs)
}

func newTestManager(t *testing.T, p providers.Provider) *Manager {
	t.Helper()
	registry := providers.NewRegistry()
	registry.Register(p)
	return NewManager(eventbus.New(), registry, tools.NewRegistry(), t.TempDir())
}

func TestStartSession_RejectsUnknownProvider(t *testing.T) {
	m := newTestManager(t, &replayProvider{})
	_, err := m.StartSession(context.Background(), "s1", SessionConfig{Provider: "nope"})
	if err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}

func TestStartSession_RejectsDuplicateID(t *testing.T) {
	m := newTestManager(t, &replayProvider{})
	cfg := SessionConfig{Provider: "replay"}
	if _, err := m.StartSession(context.Background(), "dup", cfg); err != nil {
		t.Fatal(err)
	}
	defer m.StopSession(context.Background(), "dup")
	if _, err := m.StartSession(context.Background(), "dup", cfg); err == nil {
		t.Fatal("expected an error for a duplicate session id")
	}
}

func TestPromptSync_ReturnsAssistantText(t *testing.T) {
	m := newTestManager(t, &replayProvider{replies: []string{"the answer"}})
	sess, err := m.StartSession(context.Background(), "s1", SessionConfig{Provider: "replay"})
	if err != nil {
		t.Fatal(err)
	}
	defer m.StopSession(context.Background(), "s1")

	got, err := sess.PromptSync(context.Background(), "question", 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != "the answer" {
		t.Errorf("PromptSync = %q", got)
	}
	if st := sess.GetState(); st.Phase != "idle" {
		t.Errorf("phase after run = %q", st.Phase)
	}
}

func TestPromptSync_RejectsEmptyText(t *testing.T) {
	m := newTestManager(t, &replayProvider{})
	sess, err := m.StartSession(context.Background(), "s1", SessionConfig{Provider: "replay"})
	if err != nil {
		t.Fatal(err)
	}
	defer m.StopSession(context.Background(), "s1")

	if _, err := sess.PromptSync(context.Background(), "", time.Second); err == nil {
		t.Error("expected empty prompt to be rejected")
	}
}

// A steer submitted while the loop is idle is handled exactly like a prompt.
func TestSteer_WhileIdleBehavesLikePrompt(t *testing.T) {
	m := newTestManager(t, &replayProvider{replies: []string{"steered reply"}})
	sess, err := m.StartSession(context.Background(), "s1", SessionConfig{Provider: "replay"})
	if err != nil {
		t.Fatal(err)
	}
	defer m.StopSession(context.Background(), "s1")

	if err := sess.Steer("treated as prompt"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		path := sess.GetPath()
		if len(path) >= 2 && path[len(path)-1].Role == models.RoleAssistant {
			if path[0].Content != "treated as prompt" {
				t.Errorf("first message = %q", path[0].Content)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the steered-while-idle run to complete")
}

func TestSessionStoreEnabled_AutoSavesAfterRun(t *testing.T) {
	dataDir := t.TempDir()
	m := newTestManager(t, &replayProvider{replies: []string{"persisted"}})
	sess, err := m.StartSession(context.Background(), "persist-1", SessionConfig{
		Provider:            "replay",
		DataDir:             dataDir,
		SessionStoreEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.StopSession(context.Background(), "persist-1")

	if _, err := sess.PromptSync(context.Background(), "save me", 10*time.Second); err != nil {
		t.Fatal(err)
	}

	transcript := filepath.Join(SessionsDir(dataDir), "persist-1.jsonl")
	if _, err := os.Stat(transcript); err != nil {
		t.Fatalf("expected auto-saved transcript at %s: %v", transcript, err)
	}

	ids, err := ListSavedSessions(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "persist-1" {
		t.Errorf("ListSavedSessions = %v", ids)
	}
}

func TestStopSession_RemovesFromManager(t *testing.T) {
	m := newTestManager(t, &replayProvider{})
	if _, err := m.StartSession(context.Background(), "s1", SessionConfig{Provider: "replay"}); err != nil {
		t.Fatal(err)
	}
	if err := m.StopSession(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetSession("s1"); ok {
		t.Error("expected session to be removed after stop")
	}
	if err := m.StopSession(context.Background(), "s1"); err == nil {
		t.Error("expected stopping a stopped session to error")
	}
}

func TestSessionInfo_TracksActivity(t *testing.T) {
	m := newTestManager(t, &replayProvider{})
	sess, err := m.StartSession(context.Background(), "s1", SessionConfig{Provider: "replay", AgentID: "agent-7"})
	if err != nil {
		t.Fatal(err)
	}
	defer m.StopSession(context.Background(), "s1")

	info := sess.Info()
	if info.ID != "s1" || info.AgentID != "agent-7" {
		t.Errorf("unexpected info: %+v", info)
	}
	if sess.IdleFor() < 0 {
		t.Error("IdleFor should never be negative")
	}
}
