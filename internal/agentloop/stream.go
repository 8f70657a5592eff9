package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

// toolCallAccumulator collects a tool call's name and streamed argument
// fragments, keyed by the provider's positional CallIndex until CallID is
// known (mirrors how each provider backend itself tracks in-flight calls
// before a tool_call_done event finalizes them).
type toolCallAccumulator struct {
	id       string
	name     string
	argsBuf  strings.Builder
	finalArg json.RawMessage
}

// streamTurn drives one model turn to completion, retrying transient
// failures with exponential backoff and forcing a compaction pass before
// retrying on a context-overflow classification. It returns once the model
// has either produced a complete response or every retry has been
// exhausted.
func (l *Loop) streamTurn(ctx context.Context, runID string, turn int, forcedCompaction *bool) (text, thinking string, calls []models.ToolCall, usage *providers.Usage, err error) {
	attempt := 0
	for {
		text, thinking, calls, usage, err = l.attemptStream(ctx, runID, turn)
		if err == nil {
			return text, thinking, calls, usage, nil
		}

		reason := providers.ClassifyError(err)
		class := reason.Classify()

		switch class {
		case providers.Overflow:
			if l.config.Compactor != nil && !*forcedCompaction {
				*forcedCompaction = true
				path := l.tree.GetPath()
				before := len(path)
				l.emit(ctx, runID, turn, models.AgentEventCompactionStarted, func(e *models.AgentEvent) {
					e.Compaction = &models.CompactionEventPayload{MessagesBeforeCompaction: before, Forced: true}
				})
				if _, cerr := l.config.Compactor.Compact(ctx, l.tree); cerr == nil {
					l.emit(ctx, runID, turn, models.AgentEventCompactionFinished, func(e *models.AgentEvent) {
						e.Compaction = &models.CompactionEventPayload{MessagesBeforeCompaction: before, Forced: true}
					})
					continue
				}
			}
			return "", "", nil, nil, fmt.Errorf("agentloop: context overflow and compaction unavailable: %w", err)
		case providers.Transient:
			attempt++
			if attempt > l.config.MaxRetries {
				return "", "", nil, nil, fmt.Errorf("agentloop: exhausted %d retries: %w", l.config.MaxRetries, err)
			}
			delay := backoffDelay(l.config.RetryBaseDelay, l.config.RetryMaxDelay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", "", nil, nil, ctx.Err()
			}
			continue
		default: // Permanent
			return "", "", nil, nil, err
		}
	}
}

// providerRequestStatus classifies an attemptStream outcome for the provider
// request metric's status label: "success" on a clean completion, otherwise
// the retry classifier's verdict (overflow/transient/permanent) so a
// dashboard can tell a rate-limited provider apart from one returning bad
// requests.
func providerRequestStatus(err error) string {
	if err == nil {
		return "success"
	}
	switch providers.ClassifyError(err).Classify() {
	case providers.Overflow:
		return "overflow"
	case providers.Transient:
		return "transient"
	default:
		return "permanent"
	}
}

func (l *Loop) recordProviderRequest(status string, start time.Time, usage *providers.Usage) {
	if l.config.Metrics == nil {
		return
	}
	var in, out int
	if usage != nil {
		in, out = usage.InputTokens, usage.OutputTokens
	}
	l.config.Metrics.RecordProviderRequest(l.provider.Name(), l.config.Model, status, time.Since(start), in, out)
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// attemptStream makes one streaming request attempt and drains it to
// completion (or a terminal error), applying the stream-idle watchdog to
// every chunk receive.
func (l *Loop) attemptStream(ctx context.Context, runID string, turn int) (text, thinking string, calls []models.ToolCall, usage *providers.Usage, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.phase = PhaseStreaming
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.phase = PhaseRunning
		l.mu.Unlock()
	}()

	start := time.Now()
	defer func() {
		l.recordProviderRequest(providerRequestStatus(err), start, usage)
	}()

	descriptors := bridgeToolDescriptors(l.registry.Descriptors())
	messages := l.tree.GetPath()

	handle, err := l.provider.Stream(streamCtx, l.config.Model, messages, descriptors, l.config.SystemPrompt, providers.StreamOptions{
		MaxTokens: l.config.MaxTokens,
	})
	if err != nil {
		return "", "", nil, nil, err
	}

	var textBuf, thinkingBuf strings.Builder
	accByIndex := make(map[int]*toolCallAccumulator)
	var order []int

	watchdog := l.config.StreamIdleTimeout
	if watchdog <= 0 {
		watchdog = 2 * time.Minute
	}

	chunks := handle.Chunks
	errc := handle.Err

	for {
		timer := time.NewTimer(watchdog)
		select {
		case raw, ok := <-chunks:
			timer.Stop()
			if !ok {
				calls := finalizeToolCalls(accByIndex, order)
				return textBuf.String(), thinkingBuf.String(), calls, usage, nil
			}
			events, perr := l.provider.ParseStreamEvent(raw)
			if perr != nil {
				return "", "", nil, nil, perr
			}
			for _, ev := range events {
				switch ev.Type {
				case providers.EventTextDelta:
					textBuf.WriteString(ev.Text)
					l.emit(ctx, runID, turn, models.AgentEventModelDelta, func(e *models.AgentEvent) {
						e.Stream = &models.StreamEventPayload{Delta: ev.Text}
					})
				case providers.EventThinkingDelta:
					thinkingBuf.WriteString(ev.Thinking)
					l.emit(ctx, runID, turn, models.AgentEventThinkingDelta, func(e *models.AgentEvent) {
						e.Stream = &models.StreamEventPayload{Delta: ev.Thinking}
					})
				case providers.EventToolCallStart:
					acc := &toolCallAccumulator{id: ev.CallID, name: ev.Name}
					accByIndex[ev.CallIndex] = acc
					order = append(order, ev.CallIndex)
				case providers.EventToolCallDelta:
					acc, ok := accByIndex[ev.CallIndex]
					if !ok {
						if ev.CallID == "" {
							// A delta for an index that never started and
							// carries no call id cannot be correlated;
							// drop it rather than fabricate a call.
							continue
						}
						acc = &toolCallAccumulator{id: ev.CallID}
						accByIndex[ev.CallIndex] = acc
						order = append(order, ev.CallIndex)
					}
					acc.argsBuf.WriteString(ev.Delta)
				case providers.EventToolCallDone:
					acc, ok := accByIndex[ev.CallIndex]
					if !ok {
						if ev.CallID == "" && ev.Name == "" {
							continue
						}
						acc = &toolCallAccumulator{id: ev.CallID, name: ev.Name}
						accByIndex[ev.CallIndex] = acc
						order = append(order, ev.CallIndex)
					}
					if ev.CallID != "" {
						acc.id = ev.CallID
					}
					if ev.Name != "" {
						acc.name = ev.Name
					}
					if len(ev.Arguments) > 0 {
						acc.finalArg = ev.Arguments
					}
				case providers.EventUsage:
					usage = ev.Usage
				case providers.EventError:
					return "", "", nil, nil, ev.Err
				case providers.EventResponseDone:
					calls := finalizeToolCalls(accByIndex, order)
					return textBuf.String(), thinkingBuf.String(), calls, usage, nil
				}
			}
		case err, ok := <-errc:
			timer.Stop()
			if !ok {
				// Err closed with no error; keep draining Chunks for the
				// terminal response_done/close, but stop selecting on this
				// channel again so a closed channel can't spin the loop.
				errc = nil
				continue
			}
			if err != nil {
				return "", "", nil, nil, err
			}
		case <-timer.C:
			cancel()
			return "", "", nil, nil, fmt.Errorf("agentloop: stream idle for %s: %w", watchdog, context.DeadlineExceeded)
		case <-ctx.Done():
			timer.Stop()
			return "", "", nil, nil, ctx.Err()
		}
	}
}

func finalizeToolCalls(accByIndex map[int]*toolCallAccumulator, order []int) []models.ToolCall {
	if len(order) == 0 {
		return nil
	}
	calls := make([]models.ToolCall, 0, len(order))
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		acc := accByIndex[idx]
		if acc == nil || (acc.id == "" && acc.name == "") {
			continue
		}
		input := acc.finalArg
		if len(input) == 0 {
			raw := acc.argsBuf.String()
			if raw == "" {
				raw = "{}"
			}
			input = json.RawMessage(raw)
		}
		calls = append(calls, models.ToolCall{ID: acc.id, Name: acc.name, Input: input})
	}
	return calls
}

// bridgeToolDescriptors converts the tool layer's provider-agnostic
// descriptor shape into the providers package's identical-but-distinct
// type, keeping internal/tools free of a dependency on internal/providers
// (see tools.ToolDescriptor's doc comment).
func bridgeToolDescriptors(in []tools.ToolDescriptor) []providers.ToolDescriptor {
	out := make([]providers.ToolDescriptor, len(in))
	for i, d := range in {
		out[i] = providers.ToolDescriptor{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}
