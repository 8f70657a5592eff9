// Package agentloop implements the per-session agent state machine: one
// model turn, its tool calls, and the bookkeeping (retry classification,
// auto-compaction, steering) around them.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/internal/compaction"
	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/sessionstore"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

// Phase is the loop's coarse-grained state: idle between runs,
// running while orchestrating turns/tools, streaming while a model response
// is actively arriving.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseStreaming Phase = "streaming"
)

// ErrMaxIterations is returned when a run exhausts its iteration budget
// without reaching a natural stop (no tool calls, nothing steered in).
var ErrMaxIterations = fmt.Errorf("agentloop: reached maximum iterations")

// MetricsRecorder is the subset of internal/metrics.Collector's interface
// the loop and its executor need. Declared here (composing tools'
// narrower interface) rather than importing internal/metrics directly, so
// this package stays decoupled from the observability stack's concrete
// implementation.
type MetricsRecorder interface {
	tools.MetricsRecorder
	RecordRunAttempt(status string)
	RecordCompaction(outcome string)
	RecordProviderRequest(provider, model, status string, d time.Duration, inputTokens, outputTokens int)
}

// Config tunes a Loop's retry policy, iteration ceiling, and watchdog.
type Config struct {
	MaxIterations     int
	MaxToolCallsPerTurn int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	MaxRetries        int
	StreamIdleTimeout time.Duration
	MaxTokens         int
	SystemPrompt      string
	Model             string
	Compactor         *compaction.Compactor
	Metrics           MetricsRecorder
	Tracer            telemetry.SpanStarter
}

// DefaultConfig returns the runtime's defaults: 10 iterations, exponential
// backoff starting at 2s doubling to a 60s ceiling, a 2-minute stream idle
// watchdog.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:       10,
		MaxToolCallsPerTurn: 32,
		RetryBaseDelay:      2 * time.Second,
		RetryMaxDelay:       60 * time.Second,
		MaxRetries:          5,
		StreamIdleTimeout:   2 * time.Minute,
		MaxTokens:           4096,
	}
}

// Loop runs a single session's agent turns against one tree, one provider,
// and one tool registry.
type Loop struct {
	mu       sync.Mutex
	phase    Phase
	tree     *sessionstore.Tree
	provider providers.Provider
	registry *tools.Registry
	executor *tools.Executor
	bus      *eventbus.Bus
	config   *Config
	steering *SteeringQueue

	runCancel context.CancelFunc
	aborted   bool

	seq uint64
}

// New builds a Loop around the given session tree.
func New(tree *sessionstore.Tree, provider providers.Provider, registry *tools.Registry, bus *eventbus.Bus, config *Config) *Loop {
	if config == nil {
		config = DefaultConfig()
	}
	executor := tools.NewExecutor(registry, nil)
	if config.Metrics != nil {
		executor.SetMetrics(config.Metrics)
	}
	if config.Tracer != nil {
		executor.SetTracer(config.Tracer)
	}
	return &Loop{
		phase:    PhaseIdle,
		tree:     tree,
		provider: provider,
		registry: registry,
		executor: executor,
		bus:      bus,
		config:   config,
		steering: NewSteeringQueue(),
	}
}

// Phase returns the loop's current state.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Steer enqueues a steering message, delivered at the next turn boundary.
func (l *Loop) Steer(msg *SteeringMessage) { l.steering.Push(msg) }

// Model returns the model currently configured for this loop's turns.
func (l *Loop) Model() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.Model
}

// SetModel updates the model used for subsequent turns. Callers are
// responsible for only invoking this while the loop is idle. Setting the
// same model twice never touches message history, since no message is
// appended either way.
func (l *Loop) SetModel(model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Model = model
}

// Abort cancels the in-flight run, if any: the streaming handle and any
// dispatched tool tasks are cancelled, Run returns without error once it
// unwinds, and the loop reaches idle with every message appended so far
// left intact. A no-op if the loop is already idle.
func (l *Loop) Abort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase == PhaseIdle || l.runCancel == nil {
		return
	}
	l.aborted = true
	l.runCancel()
}

func (l *Loop) nextSeq() uint64 { return atomic.AddUint64(&l.seq, 1) }

func (l *Loop) isAborted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aborted
}

func (l *Loop) emit(ctx context.Context, runID string, turn int, typ models.AgentEventType, mutate func(*models.AgentEvent)) {
	if l.bus == nil {
		return
	}
	ev := models.AgentEvent{
		Version:   1,
		Type:      typ,
		Time:      time.Now(),
		Sequence:  l.nextSeq(),
		RunID:     runID,
		TurnIndex: turn,
	}
	if mutate != nil {
		mutate(&ev)
	}
	l.bus.Broadcast(l.tree.SessionID(), ev)
}

// Run drives the loop on a newly arrived user message until it reaches a
// natural stop: no pending tool calls and no queued steering message, a
// permanent provider error, or MaxIterations exhausted.
func (l *Loop) Run(ctx context.Context, userMessage *models.Message) error {
	l.mu.Lock()
	if l.phase != PhaseIdle {
		l.mu.Unlock()
		return fmt.Errorf("agentloop: run already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.phase = PhaseRunning
	l.runCancel = cancel
	l.aborted = false
	l.mu.Unlock()
	ctx = runCtx

	runID := uuid.NewString()
	defer func() {
		l.mu.Lock()
		l.phase = PhaseIdle
		l.runCancel = nil
		l.mu.Unlock()
		cancel()
	}()

	if err := l.tree.Append(userMessage); err != nil {
		return fmt.Errorf("agentloop: append user message: %w", err)
	}

	l.emit(ctx, runID, 0, models.AgentEventRunStarted, nil)

	compactedThisTurn := false
	for turn := 0; turn < l.config.MaxIterations; turn++ {
		l.emit(ctx, runID, turn, models.AgentEventTurnStarted, nil)

		if l.config.Compactor != nil {
			path := l.tree.GetPath()
			if l.config.Compactor.ShouldCompact(path) {
				before := len(path)
				l.emit(ctx, runID, turn, models.AgentEventCompactionStarted, func(e *models.AgentEvent) {
					e.Compaction = &models.CompactionEventPayload{MessagesBeforeCompaction: before, TokensEstimateBefore: compaction.EstimateTokens(path)}
				})
				if res, err := l.config.Compactor.Compact(ctx, l.tree); err == nil && res.Compacted {
					after := l.tree.GetPath()
					l.emit(ctx, runID, turn, models.AgentEventCompactionFinished, func(e *models.AgentEvent) {
						e.Compaction = &models.CompactionEventPayload{
							MessagesBeforeCompaction: before,
							MessagesAfterCompaction:  len(after),
							TokensEstimateBefore:     compaction.EstimateTokens(path),
							TokensEstimateAfter:      compaction.EstimateTokens(after),
						}
					})
					if l.config.Metrics != nil {
						l.config.Metrics.RecordCompaction("compacted")
					}
				} else if l.config.Metrics != nil {
					l.config.Metrics.RecordCompaction("noop")
				}
			}
		}

		spanCtx := ctx
		var end telemetry.SpanEnder
		if l.config.Tracer != nil {
			spanCtx, end = l.config.Tracer.StartSpan(ctx, telemetry.SpanName("agentloop", "turn"), telemetry.ProviderAttributes(l.provider.Name(), l.config.Model)...)
		}
		text, thinking, calls, usage, err := l.streamTurn(spanCtx, runID, turn, &compactedThisTurn)
		if end != nil {
			spanErr := err
			end(&spanErr)
		}
		if err != nil {
			if l.isAborted() {
				l.emit(context.Background(), runID, turn, models.AgentEventRunCancelled, nil)
				l.recordRunAttempt("aborted")
				return nil
			}
			l.emit(ctx, runID, turn, models.AgentEventRunError, func(e *models.AgentEvent) {
				e.Error = &models.ErrorEventPayload{Message: err.Error(), Err: err}
			})
			l.recordRunAttempt("error")
			return err
		}
		compactedThisTurn = false

		assistant := models.NewMessage(l.tree.SessionID(), "", models.RoleAssistant)
		assistant.Content = text
		assistant.Thinking = thinking
		assistant.ToolCalls = calls
		if err := l.tree.Append(assistant); err != nil {
			return fmt.Errorf("agentloop: append assistant message: %w", err)
		}

		l.emit(ctx, runID, turn, models.AgentEventModelCompleted, func(e *models.AgentEvent) {
			e.Stream = &models.StreamEventPayload{Final: text}
			if usage != nil {
				e.Stream.InputTokens = usage.InputTokens
				e.Stream.OutputTokens = usage.OutputTokens
			}
		})

		if len(calls) == 0 {
			if steered := l.steering.Drain(); len(steered) > 0 {
				l.injectSteering(runID, turn, steered)
				continue
			}
			l.emit(ctx, runID, turn, models.AgentEventTurnFinished, nil)
			l.emit(ctx, runID, turn, models.AgentEventRunFinished, nil)
			l.recordRunAttempt("finished")
			return nil
		}

		if len(calls) > l.config.MaxToolCallsPerTurn {
			err := fmt.Errorf("agentloop: %d tool calls exceeds per-turn limit of %d", len(calls), l.config.MaxToolCallsPerTurn)
			l.emit(ctx, runID, turn, models.AgentEventRunError, func(e *models.AgentEvent) {
				e.Error = &models.ErrorEventPayload{Message: err.Error()}
			})
			l.recordRunAttempt("error")
			return err
		}

		// Snapshot-for-tools: tools (in particular a sub-agent spawn tool)
		// read conversation context from this copy rather than the live
		// tree, so a tool that re-enters the loop synchronously can never
		// deadlock against the lock this Run call is implicitly holding by
		// virtue of being mid-turn.
		snapshot := l.tree.GetPath()
		toolCtx := WithSnapshot(ctx, snapshot)
		toolCtx = WithParentSession(toolCtx, l.tree.SessionID())

		for _, tc := range calls {
			l.emit(ctx, runID, turn, models.AgentEventToolStarted, func(e *models.AgentEvent) {
				e.Tool = &models.ToolEventPayload{CallID: tc.ID, Name: tc.Name, ArgsJSON: tc.Input}
			})
		}

		results := l.executor.ExecuteAll(toolCtx, calls, func(callID string, update tools.StatusUpdate) {
			l.emit(ctx, runID, turn, models.AgentEventToolStdout, func(e *models.AgentEvent) {
				e.Tool = &models.ToolEventPayload{CallID: callID, Chunk: update.Message}
			})
		})

		// An abort that lands mid-dispatch cancels toolCtx (derived from
		// ctx) and every in-flight task with it; no tool_result messages
		// are synthesized for the aborted batch and the already-appended
		// tool-call message is left as is.
		if l.isAborted() {
			l.emit(context.Background(), runID, turn, models.AgentEventRunCancelled, nil)
			l.recordRunAttempt("aborted")
			return nil
		}

		for _, r := range results {
			l.emit(ctx, runID, turn, models.AgentEventToolFinished, func(e *models.AgentEvent) {
				payload := &models.ToolEventPayload{CallID: r.ToolCallID, Name: r.ToolName, Elapsed: r.Duration}
				if r.Error != nil {
					payload.Success = false
				} else if r.Result != nil {
					payload.Success = !r.Result.IsError
					payload.ResultJSON, _ = json.Marshal(r.Result.Content)
				}
				e.Tool = payload
			})
		}

		resultMessages := tools.ResultsToMessages(l.tree.SessionID(), "", results)
		if err := l.tree.AppendMany(resultMessages); err != nil {
			return fmt.Errorf("agentloop: append tool results: %w", err)
		}

		if steered := l.steering.Drain(); len(steered) > 0 {
			l.injectSteering(runID, turn, steered)
		}

		l.emit(ctx, runID, turn, models.AgentEventTurnFinished, nil)
	}

	l.emit(ctx, runID, l.config.MaxIterations, models.AgentEventRunError, func(e *models.AgentEvent) {
		e.Error = &models.ErrorEventPayload{Message: ErrMaxIterations.Error()}
	})
	l.recordRunAttempt("max_iterations")
	return ErrMaxIterations
}

func (l *Loop) recordRunAttempt(status string) {
	if l.config.Metrics != nil {
		l.config.Metrics.RecordRunAttempt(status)
	}
}

func (l *Loop) injectSteering(runID string, turn int, steered []*SteeringMessage) {
	for _, s := range steered {
		role := models.RoleUser
		m := models.NewMessage(l.tree.SessionID(), "", role)
		m.Content = s.Content
		_ = l.tree.Append(m)
	}
	l.emit(context.Background(), runID, turn, models.AgentEventSteeringInjected, func(e *models.AgentEvent) {
		e.Steering = &models.SteeringEventPayload{Count: len(steered)}
	})
}
