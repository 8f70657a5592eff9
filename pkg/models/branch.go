package models

import (
	"time"

	"github.com/google/uuid"
)

// Branch is a named pointer into a session's message tree. The tree itself
// branches implicitly whenever current_id is moved to an interior node and a
// new message is appended; a Branch gives one of those lineages a stable,
// human-readable name so a caller can return to it after the current leaf
// has moved on.
type Branch struct {
	// ID is the unique identifier for this branch record.
	ID string `json:"id"`

	// SessionID is the session whose tree this branch points into.
	SessionID string `json:"session_id"`

	// Name is the human-readable name for the branch, unique per session.
	Name string `json:"name"`

	// HeadID is the message id the branch points at. Switching to the
	// branch sets the tree's current_id here.
	HeadID string `json:"head_id"`

	// IsPrimary marks the session's main lineage.
	IsPrimary bool `json:"is_primary,omitempty"`

	// CreatedAt is when the branch was first named.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the branch head was last moved.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBranch creates a named branch pointing at headID.
func NewBranch(sessionID, name, headID string) *Branch {
	now := time.Now()
	return &Branch{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      name,
		HeadID:    headID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
