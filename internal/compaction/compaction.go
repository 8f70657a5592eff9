// Package compaction implements context-window compaction: once a
// session's estimated prompt usage crosses a threshold, the oldest
// contiguous run of messages on the active path is collapsed into a single
// synthesized summary message, snapped to user-message boundaries so the
// cut never splits an assistant turn from its own tool results.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentcore/runtime/pkg/models"
	"github.com/agentcore/runtime/internal/sessionstore"
)

// CharsPerToken is the cheap token-estimate proxy used throughout this
// package: real tokenization varies per provider/model, and the compaction
// trigger only needs to be in the right ballpark, not exact.
const CharsPerToken = 4

// Config tunes when and how compaction runs.
type Config struct {
	// ThresholdRatio triggers compaction once EstimateTokens of the active
	// path divided by ContextWindow reaches this fraction. Default: 0.8.
	// The prompt-token usage a provider reports is not consulted.
	ThresholdRatio float64

	// ContextWindow is the provider/model's total context size in tokens.
	ContextWindow int

	// KeepRecentMessages is the minimum number of newest messages on the
	// path that are never eligible for compaction, even under threshold
	// pressure, so the model always retains immediate conversational
	// context.
	KeepRecentMessages int

	// Summarize produces the replacement summary text for a run of
	// messages. If nil, or if it returns an error, compaction falls back to
	// a fixed truncation notice (the "summary-or-truncation fallback").
	Summarize func(ctx context.Context, messages []*models.Message) (string, error)
}

// DefaultConfig returns the default threshold of 80% of the context
// window, keeping at least the last 4 messages uncompacted.
func DefaultConfig(contextWindow int) *Config {
	return &Config{ThresholdRatio: 0.8, ContextWindow: contextWindow, KeepRecentMessages: 4}
}

// Compactor evaluates and performs compaction against a session's message
// tree.
type Compactor struct {
	mu     sync.Mutex
	config *Config
}

// NewCompactor builds a Compactor. A nil config uses DefaultConfig(0), which
// never triggers (a zero context window always reads as 0% usage) until the
// caller sets ContextWindow.
func NewCompactor(config *Config) *Compactor {
	if config == nil {
		config = DefaultConfig(0)
	}
	if config.ThresholdRatio <= 0 {
		config.ThresholdRatio = 0.8
	}
	return &Compactor{config: config}
}

// EstimateTokens approximates the token count of a message sequence.
func EstimateTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) + len(m.Thinking)
		for _, tc := range m.ToolCalls {
			total += len(tc.Input)
		}
	}
	return total / CharsPerToken
}

// ShouldCompact reports whether the estimated usage of path has crossed the
// configured threshold.
func (c *Compactor) ShouldCompact(path []*models.Message) bool {
	if c.config.ContextWindow <= 0 {
		return false
	}
	estimated := EstimateTokens(path)
	return float64(estimated)/float64(c.config.ContextWindow) >= c.config.ThresholdRatio
}

// Result describes what a Compact call did.
type Result struct {
	Compacted     bool
	ReplacedCount int
	SummaryID     string
}

// Compact walks tr's active path from newest to oldest looking for a cut
// point that leaves at least KeepRecentMessages untouched and snaps to a
// user-message boundary (the message immediately after the cut must be a
// user message, so a replayed path never starts mid-turn). Everything from
// the path's start up to and including that boundary is replaced by one
// synthesized summary message.
//
// Compact is idempotent: if the path is only an earlier compaction summary
// plus the protected suffix, or no valid user-boundary cut point exists past
// any leading summary, Compact returns a no-op Result rather than erroring.
// A path that starts with a summary is compacted again once a new user
// boundary lies past it; the earlier summary is then part of the replaced
// prefix.
func (c *Compactor) Compact(ctx context.Context, tr *sessionstore.Tree) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := tr.GetPath()
	if len(path) == 0 {
		return &Result{}, nil
	}

	if len(path) > 0 && path[0].IsCompactionSummary() && len(path) <= c.config.KeepRecentMessages+1 {
		return &Result{}, nil
	}

	cut := c.findCutPoint(path)
	if cut <= 0 {
		return &Result{}, nil
	}

	prefix := path[:cut]
	prefixIDs := make([]string, len(prefix))
	for i, m := range prefix {
		prefixIDs[i] = m.ID
	}

	summaryText, err := c.summarize(ctx, prefix)
	if err != nil {
		summaryText = truncationNotice(prefix)
	}

	summary := models.NewMessage(tr.SessionID(), "", models.RoleSystem)
	summary.Content = summaryText
	summary.Metadata = map[string]any{"compaction_summary": true, "replaced_count": len(prefix)}

	if err := tr.ReplacePathSegment(prefixIDs, summary); err != nil {
		return nil, fmt.Errorf("compaction: replace path segment: %w", err)
	}

	return &Result{Compacted: true, ReplacedCount: len(prefix), SummaryID: summary.ID}, nil
}

// findCutPoint scans path from the oldest eligible message forward (i.e.
// newest-to-oldest in the "keep this many recent messages untouched" sense,
// but the scan itself walks oldest-first since the summary boundary must be
// a prefix) and returns the index of the latest user message that directly
// follows a message in the compactable region — i.e. the exclusive end of
// the longest safe-to-replace prefix. Returns 0 if there is
// no such boundary, or if fewer than one message falls outside the
// protected KeepRecentMessages suffix.
func (c *Compactor) findCutPoint(path []*models.Message) int {
	keep := c.config.KeepRecentMessages
	if keep < 0 {
		keep = 0
	}
	limit := len(path) - keep
	if limit <= 0 {
		return 0
	}

	already := 0
	for already < limit && path[already].IsCompactionSummary() {
		already++
	}

	best := 0
	for i := already; i < limit; i++ {
		if i+1 < len(path) && path[i+1].Role == models.RoleUser {
			best = i + 1
		}
	}
	return best
}

func (c *Compactor) summarize(ctx context.Context, messages []*models.Message) (string, error) {
	if c.config.Summarize == nil {
		return "", fmt.Errorf("compaction: no summarizer configured")
	}
	return c.config.Summarize(ctx, messages)
}

// truncationNotice is the fixed fallback text used when no summarizer is
// configured or the summarizer call fails, per the "summary-or-truncation
// fallback" requirement: compaction must never block on a provider being
// unavailable.
func truncationNotice(dropped []*models.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d earlier messages truncated]", len(dropped))
	return sb.String()
}
