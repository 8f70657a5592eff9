package supervision

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SentinelFilename is the name of the per-session restart bookkeeping
// file.
const SentinelFilename = "restart-sentinel.json"

// sentinelRecord is the versioned wrapper persisted to disk.
type sentinelRecord struct {
	Version int          `json:"version"`
	Event   RestartEvent `json:"event"`
}

// Sentinels persists the most recent restart event per session to
// sentinelDir/<sessionID>.restart-sentinel.json, so a process restart can
// discover whether the last thing it did before dying was mid-restart. An
// empty sentinelDir makes every operation a no-op, keeping sentinel
// persistence strictly optional.
type Sentinels struct {
	mu  sync.Mutex
	dir string
}

// NewSentinels builds a Sentinels writer rooted at dir.
func NewSentinels(dir string) *Sentinels {
	return &Sentinels{dir: dir}
}

func (s *Sentinels) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+"."+SentinelFilename)
}

// Record writes ev as the latest sentinel for sessionID. Failures are
// swallowed: sentinel persistence is diagnostic bookkeeping, never load-
// bearing for correctness, so a write failure must not propagate into the
// supervision decision that triggered it.
func (s *Sentinels) Record(sessionID string, ev RestartEvent) {
	if s.dir == "" {
		return
	}
	ev.Timestamp = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return
	}
	b, err := json.MarshalIndent(sentinelRecord{Version: 1, Event: ev}, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path(sessionID), b, 0o644)
}

// Consume reads and deletes the sentinel for sessionID, if any. The delete
// means a stale sentinel is never re-read as fresh state on a later call.
func (s *Sentinels) Consume(sessionID string) (*RestartEvent, bool) {
	if s.dir == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(sessionID)
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	_ = os.Remove(p)

	var rec sentinelRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false
	}
	return &rec.Event, true
}
