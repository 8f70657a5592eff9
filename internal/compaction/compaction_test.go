package compaction

import (
	"context"
	"errors"
	"testing"

	"github.com/agentcore/runtime/internal/sessionstore"
	"github.com/agentcore/runtime/pkg/models"
)

func msg(id string, role models.Role) *models.Message {
	return &models.Message{ID: id, Role: role, Content: "x"}
}

func buildTree(ids []string, roles []models.Role) *sessionstore.Tree {
	tr := sessionstore.New("s1")
	for i, id := range ids {
		tr.Append(msg(id, roles[i]))
	}
	return tr
}

func TestShouldCompact_BelowThreshold(t *testing.T) {
	c := NewCompactor(&Config{ThresholdRatio: 0.8, ContextWindow: 1_000_000})
	path := []*models.Message{msg("a", models.RoleUser)}
	if c.ShouldCompact(path) {
		t.Error("expected no compaction below threshold")
	}
}

func TestShouldCompact_AboveThreshold(t *testing.T) {
	c := NewCompactor(&Config{ThresholdRatio: 0.8, ContextWindow: 10})
	big := &models.Message{ID: "a", Role: models.RoleUser, Content: stringOfLen(1000)}
	if !c.ShouldCompact([]*models.Message{big}) {
		t.Error("expected compaction above threshold")
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

// No cut point (not enough eligible messages past the protected
// suffix) is a no-op, not an error.
func TestCompact_NoopWhenNoCutPoint(t *testing.T) {
	tr := buildTree(
		[]string{"u1", "a1"},
		[]models.Role{models.RoleUser, models.RoleAssistant},
	)
	c := NewCompactor(&Config{ThresholdRatio: 0.8, ContextWindow: 1, KeepRecentMessages: 10})

	res, err := c.Compact(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compacted {
		t.Error("expected no-op when everything is within the protected suffix")
	}
}

// P10: the suffix after the cut point is preserved untouched.
func TestCompact_PreservesSuffix(t *testing.T) {
	tr := buildTree(
		[]string{"u1", "a1", "u2", "a2", "u3", "a3"},
		[]models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant},
	)
	c := NewCompactor(&Config{ThresholdRatio: 0.8, ContextWindow: 1, KeepRecentMessages: 2})

	res, err := c.Compact(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compacted {
		t.Fatal("expected compaction to occur")
	}

	path := tr.GetPath()
	tail := path[len(path)-2:]
	if tail[0].ID != "u3" || tail[1].ID != "a3" {
		t.Fatalf("expected suffix u3,a3 preserved, got %+v", tail)
	}
	if !path[0].IsCompactionSummary() {
		t.Error("expected path to start with a compaction summary")
	}
}

// Idempotence: compacting an already-compacted path with nothing new past
// the protected suffix is a no-op.
func TestCompact_IdempotentOnSecondCall(t *testing.T) {
	tr := buildTree(
		[]string{"u1", "a1", "u2", "a2"},
		[]models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant},
	)
	c := NewCompactor(&Config{ThresholdRatio: 0.8, ContextWindow: 1, KeepRecentMessages: 1})

	first, err := c.Compact(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Compacted {
		t.Fatal("expected first compaction to occur")
	}

	second, err := c.Compact(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if second.Compacted {
		t.Error("expected second compaction call to be a no-op")
	}
}

func TestCompact_FallsBackToTruncationOnSummarizeError(t *testing.T) {
	tr := buildTree(
		[]string{"u1", "a1", "u2", "a2"},
		[]models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant},
	)
	c := NewCompactor(&Config{
		ThresholdRatio:     0.8,
		ContextWindow:      1,
		KeepRecentMessages: 1,
		Summarize: func(ctx context.Context, messages []*models.Message) (string, error) {
			return "", errors.New("provider unavailable")
		},
	})

	res, err := c.Compact(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compacted {
		t.Fatal("expected compaction to proceed via fallback")
	}
	path := tr.GetPath()
	if path[0].Content == "" {
		t.Error("expected a non-empty truncation notice")
	}
}

func TestCompact_EmptyPathIsNoop(t *testing.T) {
	tr := sessionstore.New("s1")
	c := NewCompactor(DefaultConfig(1000))
	res, err := c.Compact(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compacted {
		t.Error("expected no-op for empty tree")
	}
}

func TestEstimateTokens(t *testing.T) {
	messages := []*models.Message{
		{Content: stringOfLen(400)},
	}
	if got := EstimateTokens(messages); got != 100 {
		t.Errorf("EstimateTokens = %d, want 100", got)
	}
}
