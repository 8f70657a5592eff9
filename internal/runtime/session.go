package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentcore/runtime/internal/agentloop"
	"github.com/agentcore/runtime/internal/compaction"
	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/sessionstore"
	"github.com/agentcore/runtime/internal/supervision"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

func newLoopConfig(cfg SessionConfig, compactor *compaction.Compactor) *agentloop.Config {
	lc := agentloop.DefaultConfig()
	lc.SystemPrompt = cfg.SystemPrompt
	lc.Model = cfg.Model.ModelID
	lc.Compactor = compactor
	if cfg.MaxIterations > 0 {
		lc.MaxIterations = cfg.MaxIterations
	}
	if cfg.StreamIdleTimeout > 0 {
		lc.StreamIdleTimeout = cfg.StreamIdleTimeout
	}
	return lc
}

// loopNode adapts an *agentloop.Loop to supervision.Node: its Start is a
// no-op beyond bookkeeping, since a Loop has no independent lifecycle of
// its own outside of an in-flight Run — the Run calls driven by the
// session's mailbox are what actually does work; Stop aborts any such run.
type loopNode struct{ loop *agentloop.Loop }

func (n *loopNode) Name() string                   { return "agent-loop" }
func (n *loopNode) Start(ctx context.Context) error { return nil }
func (n *loopNode) Stop(ctx context.Context) error  { n.loop.Abort(); return nil }

// toolExecutorNode represents the tool task supervisor slot in the session
// subtree. Its lifecycle here is nominal: internal/tools.Executor has no
// background goroutines of its own to start, but giving it a subtree slot
// keeps the ordering explicit and gives RestartFrom a name to target if a
// future tool backend (e.g. an MCP bridge) needs real start/stop semantics.
type toolExecutorNode struct{ name string }

func (n *toolExecutorNode) Name() string                   { return n.name }
func (n *toolExecutorNode) Start(ctx context.Context) error { return nil }
func (n *toolExecutorNode) Stop(ctx context.Context) error  { return nil }

// Session is the live, running handle for one session: its message tree,
// its agent loop, and the supervised subtree that owns both. All mutating
// operations that would otherwise race with an in-flight Run (prompts,
// model changes) are serialized onto a single worker goroutine fed by a
// command channel, so the loop's single-threaded invariant holds without the Loop
// itself needing to know about the manager layer above it. Abort and Steer
// are the exception: by design they must interrupt a run already in
// flight, so they call directly into the Loop instead of queuing behind it.
type Session struct {
	id        string
	tree      *sessionstore.Tree
	loop      *agentloop.Loop
	provider  providers.Provider
	bus       *eventbus.Bus
	sup       *supervision.Supervisor
	compactor *compaction.Compactor
	dataDir   string
	cfg       SessionConfig

	cmds    chan func()
	stopped chan struct{}
	once    sync.Once

	activityMu sync.Mutex
	lastActive time.Time
	info       *models.Session
}

func newSession(id string, tree *sessionstore.Tree, provider providers.Provider, registry *tools.Registry, bus *eventbus.Bus, loopCfg *agentloop.Config, cfg SessionConfig, dataDir string) *Session {
	loop := agentloop.New(tree, provider, registry, bus, loopCfg)

	sup := supervision.New(id, sentinelDirFor(dataDir))
	sup.Add(&toolExecutorNode{name: "tool-executor"})
	sup.Add(&toolExecutorNode{name: "subagent-supervisor"})
	sup.Add(&loopNode{loop: loop})

	now := time.Now()
	info := &models.Session{ID: id, AgentID: cfg.AgentID, CreatedAt: now, UpdatedAt: now}

	return &Session{
		id:         id,
		tree:       tree,
		loop:       loop,
		provider:   provider,
		bus:        bus,
		sup:        sup,
		compactor:  loopCfg.Compactor,
		dataDir:    dataDir,
		cfg:        cfg,
		cmds:       make(chan func(), 64),
		stopped:    make(chan struct{}),
		lastActive: now,
		info:       info,
	}
}

// touch records activity now, so IdleFor reflects the most recent prompt or
// steer rather than when the session was created.
func (s *Session) touch() {
	s.activityMu.Lock()
	s.lastActive = time.Now()
	s.info.UpdatedAt = s.lastActive
	s.activityMu.Unlock()
}

// Info returns the session's descriptive record: identity, owning agent id,
// and activity timestamps.
func (s *Session) Info() models.Session {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return *s.info
}

// IdleFor reports how long it has been since this session last processed a
// prompt or steering message — the signal a scheduled reaper sweep checks
// against a configured idle threshold.
func (s *Session) IdleFor() time.Duration {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return time.Since(s.lastActive)
}

func (s *Session) start(ctx context.Context) error {
	if err := s.sup.Start(ctx); err != nil {
		return err
	}
	go s.worker()
	return nil
}

// worker drains the command mailbox. Each command runs under the
// supervisor's Guard: a panic anywhere in a run (the loop, a broadcast, a
// store append) is recovered and recorded against the session instead of
// taking down the process, and the worker stays alive for the next command.
func (s *Session) worker() {
	for {
		select {
		case fn := <-s.cmds:
			if err := s.sup.Guard("session-worker", func() error { fn(); return nil }); err != nil {
				slog.Error("runtime: session command panicked", "session_id", s.id, "error", err)
			}
		case <-s.stopped:
			return
		}
	}
}

// submit enqueues fn on the session's single worker goroutine and blocks
// until it has run, or until ctx is cancelled, or until the session stops.
func (s *Session) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
		return fmt.Errorf("runtime: session %q is stopped", s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return fmt.Errorf("runtime: session %q stopped mid-command", s.id)
	}
}

// ID returns the session's id.
func (s *Session) ID() string { return s.id }

// Prompt submits a user message fire-and-forget: the caller does not wait
// for the run to complete.
func (s *Session) Prompt(text string) error {
	if text == "" {
		return fmt.Errorf("runtime: prompt text must not be empty")
	}
	select {
	case s.cmds <- func() { s.runPrompt(context.Background(), text) }:
		return nil
	case <-s.stopped:
		return fmt.Errorf("runtime: session %q is stopped", s.id)
	}
}

// PromptSync submits a user message and blocks until the run completes (or
// the timeout elapses), returning the final assistant text.
func (s *Session) PromptSync(ctx context.Context, text string, timeout time.Duration) (string, error) {
	if text == "" {
		return "", fmt.Errorf("runtime: prompt text must not be empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var runErr error
	err := s.submit(runCtx, func() { runErr = s.runPrompt(runCtx, text) })
	if err != nil {
		return "", err
	}
	if runErr != nil {
		return "", runErr
	}
	return lastAssistantText(s.tree.GetPath()), nil
}

func (s *Session) runPrompt(ctx context.Context, text string) error {
	s.touch()
	msg := models.NewMessage(s.id, "", models.RoleUser)
	msg.Content = text
	err := s.loop.Run(ctx, msg)
	s.maybeAutoSave()
	return err
}

// maybeAutoSave persists the tree under data_dir/sessions after each run for
// a persistence-enabled session, so a process crash between runs loses at
// most the turn that was in flight.
func (s *Session) maybeAutoSave() {
	if !s.cfg.SessionStoreEnabled || s.dataDir == "" {
		return
	}
	if err := s.tree.Save(SessionsDir(s.dataDir)); err != nil {
		slog.Warn("runtime: session auto-save failed", "session_id", s.id, "error", err)
	}
}

func lastAssistantText(path []*models.Message) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == models.RoleAssistant {
			return path[i].Content
		}
	}
	return ""
}

// Steer injects a mid-run steering message, or behaves exactly like Prompt
// if the loop is currently idle: a steer with no run in flight is just a
// new prompt.
func (s *Session) Steer(text string) error {
	if text == "" {
		return fmt.Errorf("runtime: steer text must not be empty")
	}
	if s.loop.Phase() == agentloop.PhaseIdle {
		return s.Prompt(text)
	}
	s.touch()
	s.loop.Steer(&agentloop.SteeringMessage{Content: text, Role: string(models.RoleUser)})
	return nil
}

// Abort cancels the in-flight run, if any. It calls directly into the Loop
// rather than going through the command mailbox, since it must interrupt
// work already queued there.
func (s *Session) Abort() { s.loop.Abort() }

// State is the externally observable snapshot returned by GetState.
type State struct {
	SessionID string
	Phase     agentloop.Phase
	Model     string
}

// GetState returns a snapshot of the session's current phase and model.
func (s *Session) GetState() State {
	return State{SessionID: s.id, Phase: s.loop.Phase(), Model: s.loop.Model()}
}

// SetModel updates the model used for this session's subsequent turns.
// Routed through the mailbox so it can never race with an in-flight Run.
func (s *Session) SetModel(ctx context.Context, model string) error {
	return s.submit(ctx, func() { s.loop.SetModel(model) })
}

// Save persists the session tree to dir.
func (s *Session) Save(dir string) error { return s.tree.Save(dir) }

// Compact forces an out-of-band compaction pass rather than waiting for
// the loop's own threshold check on the next turn.
// Routed through the mailbox since it mutates the tree and must not race
// with an in-flight Run appending to the same path.
func (s *Session) Compact(ctx context.Context) (*compaction.Result, error) {
	if s.compactor == nil {
		return &compaction.Result{}, nil
	}
	var (
		res *compaction.Result
		err error
	)
	submitErr := s.submit(ctx, func() { res, err = s.compactor.Compact(ctx, s.tree) })
	if submitErr != nil {
		return nil, submitErr
	}
	return res, err
}

// Branch forks future appends from messageID.
func (s *Session) Branch(messageID string) error { return s.tree.Branch(messageID) }

// SaveBranch names the current leaf so the lineage can be returned to by
// name after further branching moves the leaf elsewhere.
func (s *Session) SaveBranch(name string) (*models.Branch, error) { return s.tree.SaveBranch(name) }

// SwitchBranch moves the current leaf to a previously named branch's head.
func (s *Session) SwitchBranch(name string) error { return s.tree.SwitchBranch(name) }

// Branches lists this session's named branches.
func (s *Session) Branches() []*models.Branch { return s.tree.Branches() }

// GetPath returns the root-to-current-leaf walk: the model's context.
func (s *Session) GetPath() []*models.Message { return s.tree.GetPath() }

// GetTree returns the full branching structure.
func (s *Session) GetTree() []*sessionstore.TreeNode { return s.tree.GetTree() }

// EventsSubscribe returns a live subscription to this session's events.
func (s *Session) EventsSubscribe(ctx context.Context) *eventbus.Subscription {
	return s.bus.Subscribe(ctx, s.id)
}

func (s *Session) stop(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.loop.Abort()
		close(s.stopped)
		err = s.sup.Shutdown(ctx)
	})
	return err
}
