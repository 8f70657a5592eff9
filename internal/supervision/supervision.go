// Package supervision implements the per-session process topology: an
// ordered subtree of nodes — tool executor, sub-agent supervisor, optional
// MCP client supervisor, optional session-store process, and the agent loop
// itself — started outermost-first and torn down in LIFO order, with a
// crash in an earlier node cascading a restart to every node after it. A
// crash in the agent loop alone restarts only the agent loop; a crash in a
// tool task never reaches this layer at all, since the tool executor
// absorbs those itself (internal/tools.Executor's panic recovery).
package supervision

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Node is one member of a session's supervised subtree.
type Node interface {
	// Name identifies the node for logging and sentinel records.
	Name() string
	// Start brings the node up. Called in subtree order.
	Start(ctx context.Context) error
	// Stop tears the node down. Called in reverse (LIFO) order.
	Stop(ctx context.Context) error
}

// Supervisor owns one session's ordered subtree and its restart bookkeeping.
// It is not safe for the same Supervisor to be started twice concurrently,
// matching the "each session is a child of the dynamic supervisor" model:
// one Supervisor per live session.
type Supervisor struct {
	mu        sync.Mutex
	sessionID string
	nodes     []Node
	started   []Node // the prefix of nodes currently up, for LIFO shutdown
	sentinel  *Sentinels
}

// New builds an empty Supervisor for sessionID. sentinelDir, if non-empty,
// is where restart bookkeeping is persisted (see Sentinels); an empty
// string disables sentinel persistence (in-memory bookkeeping only).
func New(sessionID, sentinelDir string) *Supervisor {
	return &Supervisor{
		sessionID: sessionID,
		sentinel:  NewSentinels(sentinelDir),
	}
}

// Add appends a node to the subtree. Nodes must be added in the order
// they should start: tool executor, sub-agent supervisor, [MCP client
// supervisor], [session store], agent loop.
func (s *Supervisor) Add(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, n)
}

// Start brings every node up in order. If a node fails to start, every
// already-started node is torn down LIFO before the error is returned, so a
// partially-initialized subtree never leaks.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	nodes := append([]Node(nil), s.nodes...)
	s.mu.Unlock()

	var started []Node
	for _, n := range nodes {
		if err := n.Start(ctx); err != nil {
			s.unwind(ctx, started)
			s.sentinel.Record(s.sessionID, RestartEvent{
				Kind:   KindStart,
				Status: StatusError,
				Node:   n.Name(),
				Reason: err.Error(),
			})
			return fmt.Errorf("supervision: start node %q: %w", n.Name(), err)
		}
		started = append(started, n)
	}

	s.mu.Lock()
	s.started = started
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) unwind(ctx context.Context, started []Node) {
	for i := len(started) - 1; i >= 0; i-- {
		_ = started[i].Stop(ctx)
	}
}

// Shutdown tears down every currently-started node in LIFO order,
// guaranteeing no leaked tasks, sub-agents, or file handles once it
// returns. Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = nil
	s.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("supervision: stop node %q: %w", started[i].Name(), err)
		}
	}
	return firstErr
}

// RestartFrom cascades a restart starting at the node named from: every
// started node at or after that position is stopped (LIFO) and then
// restarted in order, since later nodes in the subtree depend on earlier
// ones. A node before
// `from` is left untouched.
func (s *Supervisor) RestartFrom(ctx context.Context, from string, reason string) error {
	s.mu.Lock()
	started := append([]Node(nil), s.started...)
	s.mu.Unlock()

	idx := -1
	for i, n := range started {
		if n.Name() == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("supervision: node %q not found among started nodes", from)
	}

	toRestart := started[idx:]
	for i := len(toRestart) - 1; i >= 0; i-- {
		_ = toRestart[i].Stop(ctx)
	}

	for _, n := range toRestart {
		if err := n.Start(ctx); err != nil {
			s.sentinel.Record(s.sessionID, RestartEvent{Kind: KindRestart, Status: StatusError, Node: n.Name(), Reason: err.Error()})
			return fmt.Errorf("supervision: restart node %q: %w", n.Name(), err)
		}
	}

	s.sentinel.Record(s.sessionID, RestartEvent{Kind: KindRestart, Status: StatusOK, Node: from, Reason: reason})
	return nil
}

// Guard runs fn with panic recovery; a panic is converted into an error and
// recorded against the named node rather than propagated, mirroring the
// tool executor's crash-isolation approach one level up. This layer is the
// last resort for truly unexpected crashes.
func (s *Supervisor) Guard(nodeName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervision: node %q panicked: %v", nodeName, r)
			s.sentinel.Record(s.sessionID, RestartEvent{
				Kind:   KindCrash,
				Status: StatusError,
				Node:   nodeName,
				Reason: err.Error(),
			})
		}
	}()
	return fn()
}

// RestartEvent describes one restart-bookkeeping entry.
type RestartEvent struct {
	Kind      RestartKind
	Status    RestartStatus
	Node      string
	Reason    string
	Timestamp time.Time
}

// RestartKind categorizes what triggered a sentinel entry.
type RestartKind string

const (
	KindStart   RestartKind = "start"
	KindRestart RestartKind = "restart"
	KindCrash   RestartKind = "crash"
	KindStop    RestartKind = "stop"
)

// RestartStatus is the outcome recorded for a sentinel entry.
type RestartStatus string

const (
	StatusOK    RestartStatus = "ok"
	StatusError RestartStatus = "error"
)
