package agentloop

import (
	"context"

	"github.com/agentcore/runtime/pkg/models"
)

type snapshotKey struct{}

// WithSnapshot attaches a read-only copy of the conversation path to ctx for
// the duration of a tool dispatch. Tools that need conversation context —
// most notably a sub-agent spawn tool — read from this copy instead of the
// live tree, so a tool that synchronously starts its own agent loop can
// never block on the lock the outer Run call holds for the duration of the
// turn.
func WithSnapshot(ctx context.Context, path []*models.Message) context.Context {
	return context.WithValue(ctx, snapshotKey{}, path)
}

// SnapshotFromContext retrieves the conversation path attached by
// WithSnapshot, if any.
func SnapshotFromContext(ctx context.Context) ([]*models.Message, bool) {
	path, ok := ctx.Value(snapshotKey{}).([]*models.Message)
	return path, ok
}

type parentSessionKey struct{}

// WithParentSession tags ctx with the spawning session's ID for the
// duration of a tool dispatch, so a sub-agent spawn tool can forward its
// child's events to the session the parent's own subscribers are listening
// on (internal/subagent reads this via ParentSessionFromContext).
func WithParentSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, parentSessionKey{}, sessionID)
}

// ParentSessionFromContext retrieves the session ID attached by
// WithParentSession, if any.
func ParentSessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(parentSessionKey{}).(string)
	return id, ok
}
