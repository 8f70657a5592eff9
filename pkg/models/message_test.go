package models

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	m := NewMessage("sess-1", "branch-1", RoleUser)
	if m.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if m.SessionID != "sess-1" || m.BranchID != "branch-1" {
		t.Errorf("unexpected session/branch: %+v", m)
	}
	if m.Role != RoleUser {
		t.Errorf("Role = %q, want %q", m.Role, RoleUser)
	}
	if m.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestMessage_IsCompactionSummary(t *testing.T) {
	m := &Message{Role: RoleSystem}
	if m.IsCompactionSummary() {
		t.Error("message with nil metadata should not be a summary")
	}

	m.Metadata = map[string]any{"compaction_summary": true}
	if !m.IsCompactionSummary() {
		t.Error("expected IsCompactionSummary to be true")
	}

	m.Metadata = map[string]any{"compaction_summary": false}
	if m.IsCompactionSummary() {
		t.Error("expected IsCompactionSummary to be false")
	}

	m.Metadata = map[string]any{"other": "x"}
	if m.IsCompactionSummary() {
		t.Error("expected IsCompactionSummary to be false without the flag")
	}
}

func TestToolCall_JSONRoundTrip(t *testing.T) {
	tc := ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)}
	b, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ToolCall
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != tc.ID || got.Name != tc.Name || string(got.Input) != string(tc.Input) {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, tc)
	}
}

func TestNewSession(t *testing.T) {
	s := NewSession("agent-1")
	if s.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if s.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want %q", s.AgentID, "agent-1")
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}
