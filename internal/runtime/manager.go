package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentcore/runtime/internal/compaction"
	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/metrics"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/sessionstore"
	"github.com/agentcore/runtime/internal/subagent"
	"github.com/agentcore/runtime/internal/supervision"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/internal/tools"
)

// Manager is the root of the session supervision topology: one Bus shared
// by every session, one provider registry, one
// catalog of available tool implementations sessions select from by name,
// and a live map of running Sessions keyed by session id.
type Manager struct {
	mu          sync.RWMutex
	bus         *eventbus.Bus
	providers   *providers.Registry
	catalog     *tools.Registry // every tool implementation the process knows about
	sessions    map[string]*Session
	dataDir     string
	metrics     *metrics.Collector
	sweeper     *supervision.Sweeper
	tracer      telemetry.SpanStarter
	watcher     *sessionstore.DirWatcher
	stopWatcher context.CancelFunc
}

// NewManager builds a Manager. catalog should already contain every tool
// implementation this process wants to make available to sessions (built-in
// plus caller-registered); a session's own per-session registry is a
// filtered view of catalog selected by SessionConfig.Tools.
func NewManager(bus *eventbus.Bus, providerRegistry *providers.Registry, catalog *tools.Registry, dataDir string) *Manager {
	return &Manager{
		bus:       bus,
		providers: providerRegistry,
		catalog:   catalog,
		sessions:  make(map[string]*Session),
		dataDir:   dataDir,
	}
}

// Bus exposes the shared event bus for the RPC layer's notification bridge.
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// SetMetrics attaches a Prometheus-backed metrics collector: the shared bus
// is instrumented immediately, and every session started afterward has its
// tool executor and agent loop instrumented too. Pass nil to disable.
func (m *Manager) SetMetrics(mc *metrics.Collector) {
	m.metrics = mc
	if mc != nil {
		m.bus.SetMetrics(mc)
	}
}

// SetTracer attaches a tracer: every session started afterward has its agent
// loop and tool executor instrumented with spans. Pass nil to disable.
func (m *Manager) SetTracer(t telemetry.SpanStarter) { m.tracer = t }

// ProviderNames returns the provider tags registered with this manager.
// Model identifiers are opaque to the core and passed through as-is by
// callers.
func (m *Manager) ProviderNames() []string { return m.providers.Names() }

// StartSession creates and starts a new session's supervision subtree and
// agent loop. The returned Session is immediately
// ready to accept Prompt/Steer/Abort calls.
func (m *Manager) StartSession(ctx context.Context, sessionID string, cfg SessionConfig) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("runtime: session id must not be empty")
	}

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("runtime: session %q already started", sessionID)
	}
	m.mu.Unlock()

	providerName := cfg.Provider
	if providerName == "" {
		providerName = cfg.Model.ProviderTag
	}
	provider, ok := m.providers.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("runtime: unknown provider %q", providerName)
	}

	sessionTools := tools.NewRegistry()
	for _, name := range cfg.Tools {
		t, ok := m.catalog.Get(name)
		if !ok {
			return nil, fmt.Errorf("runtime: unknown tool %q", name)
		}
		if err := sessionTools.Register(t); err != nil {
			return nil, fmt.Errorf("runtime: register tool %q: %w", name, err)
		}
	}

	var compactor *compaction.Compactor
	if cfg.ContextWindow > 0 {
		ccfg := compaction.DefaultConfig(cfg.ContextWindow)
		if cfg.CompactionThreshold > 0 {
			ccfg.ThresholdRatio = cfg.CompactionThreshold
		}
		if cfg.KeepRecentMessages > 0 {
			ccfg.KeepRecentMessages = cfg.KeepRecentMessages
		}
		compactor = compaction.NewCompactor(ccfg)
	}

	loopCfg := newLoopConfig(cfg, compactor)
	if m.metrics != nil {
		loopCfg.Metrics = m.metrics
	}
	if m.tracer != nil {
		loopCfg.Tracer = m.tracer
	}

	if cfg.Features.SubAgents.Enabled {
		childTools := tools.NewRegistry()
		for _, name := range cfg.Tools {
			t, _ := m.catalog.Get(name)
			_ = childTools.Register(t)
		}
		spawn := subagent.New(subagent.Definition{
			Name:         sessionID + "-subagent",
			SystemPrompt: cfg.SystemPrompt,
			Model:        cfg.Model.ModelID,
			MaxDepth:     subagent.DefaultMaxDepth,
		}, provider, childTools, m.bus, loopCfg)
		if err := sessionTools.Register(spawn); err != nil {
			return nil, fmt.Errorf("runtime: register sub-agent spawn tool: %w", err)
		}
	}

	if cfg.Features.MultiAgent.Enabled {
		if cfg.MultiAgentManifestPath == "" || cfg.AgentID == "" {
			return nil, fmt.Errorf("runtime: multi-agent feature requires a manifest path and agent id")
		}
		manifest, err := subagent.LoadConfig(cfg.MultiAgentManifestPath)
		if err != nil {
			return nil, fmt.Errorf("runtime: load multi-agent manifest: %w", err)
		}
		if errs := subagent.ValidateConfig(manifest); len(errs) > 0 {
			return nil, fmt.Errorf("runtime: invalid multi-agent manifest: %v", errs[0])
		}
		childTools := tools.NewRegistry()
		for _, name := range cfg.Tools {
			t, _ := m.catalog.Get(name)
			_ = childTools.Register(t)
		}
		handoff := subagent.NewHandoffTool(cfg.AgentID, manifest, provider, childTools, m.bus, loopCfg)
		if err := sessionTools.Register(handoff); err != nil {
			return nil, fmt.Errorf("runtime: register handoff tool: %w", err)
		}
	}

	tree := sessionstore.New(sessionID)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = m.dataDir
	}

	sess := newSession(sessionID, tree, provider, sessionTools, m.bus, loopCfg, cfg, dataDir)
	if err := sess.start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()
	m.metrics.SessionStarted()

	return sess, nil
}

// GetSession resolves a live session by id.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// ListSessions returns the ids of every currently live (started, not yet
// stopped) session.
func (m *Manager) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// SessionsDir returns the transcript directory under a data_dir, per the
// persistent state layout: data_dir/sessions/<session_id>.jsonl.
func SessionsDir(dataDir string) string {
	return filepath.Join(dataDir, "sessions")
}

// ListSavedSessions returns session ids discoverable as persisted
// transcripts under dataDir's sessions directory,
// without requiring any of them to be live.
func ListSavedSessions(dataDir string) ([]string, error) {
	return sessionstore.ListTranscripts(SessionsDir(dataDir))
}

// StopSession tears down a live session's full subtree and removes it from
// the manager.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("runtime: session %q not found", sessionID)
	}
	m.metrics.SessionStopped()
	return sess.stop(ctx)
}

// StartSweeps schedules two recurring maintenance jobs on a cron scheduler:
// idle-session reaping (stopping any session untouched for longer than
// idleThreshold) and a periodic out-of-band compaction pass over every live
// session. Either spec may be empty to skip that job. Callers should call
// StopSweeps on shutdown.
func (m *Manager) StartSweeps(idleSpec string, idleThreshold time.Duration, compactSpec string) error {
	m.sweeper = supervision.NewSweeper(slog.Default())
	if idleSpec != "" && idleThreshold > 0 {
		if err := m.sweeper.AddJob(idleSpec, "idle-session-reap", func() { m.reapIdleSessions(idleThreshold) }); err != nil {
			return fmt.Errorf("runtime: schedule idle reap: %w", err)
		}
	}
	if compactSpec != "" {
		if err := m.sweeper.AddJob(compactSpec, "compaction-sweep", m.sweepCompaction); err != nil {
			return fmt.Errorf("runtime: schedule compaction sweep: %w", err)
		}
	}
	m.sweeper.Start()
	return nil
}

// StopSweeps halts the scheduler started by StartSweeps. A no-op if it was
// never started.
func (m *Manager) StopSweeps() {
	if m.sweeper != nil {
		m.sweeper.Stop()
	}
}

func (m *Manager) reapIdleSessions(threshold time.Duration) {
	m.mu.RLock()
	var idle []string
	for id, sess := range m.sessions {
		if sess.IdleFor() >= threshold {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		if err := m.StopSession(context.Background(), id); err != nil {
			slog.Warn("runtime: idle session reap failed", "session_id", id, "error", err)
		} else {
			slog.Info("runtime: reaped idle session", "session_id", id)
		}
	}
}

func (m *Manager) sweepCompaction() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := sess.Compact(ctx); err != nil {
			slog.Warn("runtime: scheduled compaction failed", "session_id", sess.ID(), "error", err)
		}
		cancel()
	}
}

// WatchDataDir starts watching dataDir (or m.dataDir if empty) for
// transcript files written by another process sharing the same data
// directory, and logs each externally-observed change against the owning
// session id. It does not reload or merge external writes into a live
// session's in-memory tree, which stays single-writer while the session is
// live; it exists so an operator running
// several agentcore processes against one shared data_dir can see
// cross-process activity in the logs. A no-op if dataDir resolves empty.
func (m *Manager) WatchDataDir(dataDir string) error {
	dir := dataDir
	if dir == "" {
		dir = m.dataDir
	}
	if dir == "" {
		return nil
	}
	dir = SessionsDir(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("runtime: create sessions dir: %w", err)
	}
	w, err := sessionstore.NewDirWatcher(dir, slog.Default())
	if err != nil {
		return fmt.Errorf("runtime: watch data dir: %w", err)
	}
	w.OnChange(func(sessionID string) {
		slog.Info("runtime: external transcript change observed", "session_id", sessionID, "data_dir", dir)
	})
	ctx, cancel := context.WithCancel(context.Background())
	m.watcher = w
	m.stopWatcher = cancel
	go w.Run(ctx)
	return nil
}

// StopWatch releases the watcher started by WatchDataDir. A no-op if it was
// never started.
func (m *Manager) StopWatch() {
	if m.stopWatcher != nil {
		m.stopWatcher()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
}

func sentinelDirFor(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "supervision")
}
