// Package models defines the core data types shared across the agent runtime.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message within a branch.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Message is one element of a branch's message sequence.
//
// A tool_result message always references the ID of a ToolCall carried by
// an earlier assistant message in the same path; the runner guarantees exactly
// one tool_result per dispatched call (see internal/tools).
type Message struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"` // tree edge; "" for a root message
	SessionID  string         `json:"session_id"`
	BranchID   string         `json:"branch_id"`
	Sequence   int64          `json:"sequence"`
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	Thinking   string         `json:"thinking,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // set on RoleToolResult messages
	IsError    bool           `json:"is_error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewMessage allocates a message with a fresh ID and the current timestamp.
func NewMessage(sessionID, branchID string, role Role) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		BranchID:  branchID,
		Role:      role,
		CreatedAt: time.Now(),
	}
}

// IsCompactionSummary reports whether this message is a synthesized compaction
// summary rather than ordinary conversation content. Used to keep compaction
// idempotent: a summary is never re-summarized.
func (m *Message) IsCompactionSummary() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata["compaction_summary"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall. Tools return one of
// these from Execute; the runner fills in ToolCallID if the tool left it
// empty, so correlation with the originating call is never lost.
type ToolResult struct {
	ToolCallID string     `json:"tool_call_id"`
	Content    string     `json:"content"`
	IsError    bool       `json:"is_error,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a binary or referenced side-output of a tool call (a generated
// file, an image, a rendered diff) that does not belong inline in Content.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Session is the top-level conversational unit. The branch tree for a
// session lives in the session store keyed by SessionID; Session itself only
// tracks identity and the primary branch pointer.
type Session struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	Title           string         `json:"title,omitempty"`
	PrimaryBranchID string         `json:"primary_branch_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewSession allocates a session with a fresh ID and timestamps.
func NewSession(agentID string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

