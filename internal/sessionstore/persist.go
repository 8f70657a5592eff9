package sessionstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentcore/runtime/pkg/models"
)

// record is one line of the persisted transcript: a single message. Tree
// edges come from Message.ParentID; root order, the current leaf and named
// branches are kept in the meta sidecar, not in records.
type record struct {
	Message *models.Message `json:"message"`
}

// meta is the sidecar file: everything about the tree that isn't a message.
type meta struct {
	SessionID string           `json:"session_id"`
	CurrentID string           `json:"current_id"`
	Roots     []string         `json:"roots"`
	Branches  []*models.Branch `json:"branches,omitempty"`
}

func transcriptPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".jsonl")
}

func metaPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".meta.json")
}

// Save writes the tree to dir as a line-delimited JSON transcript
// (<sessionID>.jsonl) plus a metadata sidecar (<sessionID>.meta.json). The
// pair round-trips losslessly via Load.
func (t *Tree) Save(dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: create dir: %w", err)
	}

	tp := transcriptPath(dir, t.sessionID)
	f, err := os.Create(tp)
	if err != nil {
		return fmt.Errorf("sessionstore: create transcript: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	// Deterministic order: write messages in tree (pre-order) traversal so a
	// reload rebuilds identical parent/child relationships even though the
	// in-memory map has no defined iteration order.
	for _, rootID := range t.roots {
		if err := t.writePreOrder(enc, rootID); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("sessionstore: flush transcript: %w", err)
	}

	m := meta{SessionID: t.sessionID, CurrentID: t.current, Roots: append([]string(nil), t.roots...)}
	for _, name := range sortedBranchNames(t.branches) {
		m.Branches = append(m.Branches, t.branches[name])
	}
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal meta: %w", err)
	}
	if err := os.WriteFile(metaPath(dir, t.sessionID), mb, 0o644); err != nil {
		return fmt.Errorf("sessionstore: write meta: %w", err)
	}
	return nil
}

func (t *Tree) writePreOrder(enc *json.Encoder, id string) error {
	n := t.nodes[id]
	if err := enc.Encode(record{Message: n.msg}); err != nil {
		return fmt.Errorf("sessionstore: encode message %s: %w", id, err)
	}
	for _, childID := range n.children {
		if err := t.writePreOrder(enc, childID); err != nil {
			return err
		}
	}
	return nil
}

// Load reconstructs a Tree from a transcript previously written by Save.
// path names the transcript file (<sessionID>.jsonl); the sidecar is
// located alongside it. A missing or corrupt file yields an empty tree for
// the given session id — missing history is recoverable, not fatal.
// Callers that want the error surfaced should use LoadStrict.
func Load(path string) *Tree {
	sessionID := sessionIDFromPath(path)
	t, err := LoadStrict(path)
	if err != nil {
		return New(sessionID)
	}
	return t
}

// LoadStrict is Load but propagates the error instead of swallowing it.
func LoadStrict(path string) (*Tree, error) {
	sessionID := sessionIDFromPath(path)
	t := New(sessionID)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open transcript: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("sessionstore: decode transcript: %w", err)
		}
		if rec.Message == nil {
			continue
		}
		n := &node{msg: rec.Message, parentID: rec.Message.ParentID}
		t.nodes[rec.Message.ID] = n
		if rec.Message.ParentID == "" {
			t.roots = append(t.roots, rec.Message.ID)
		} else if parent, ok := t.nodes[rec.Message.ParentID]; ok {
			parent.children = append(parent.children, rec.Message.ID)
		}
	}

	dir := filepath.Dir(path)
	mb, err := os.ReadFile(metaPath(dir, sessionID))
	if err == nil {
		var m meta
		if jerr := json.Unmarshal(mb, &m); jerr == nil {
			t.current = m.CurrentID
			if len(m.Roots) > 0 {
				t.roots = m.Roots
			}
			for _, b := range m.Branches {
				t.branches[b.Name] = b
			}
		}
	}

	return t, nil
}

func sortedBranchNames(branches map[string]*models.Branch) []string {
	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTranscripts returns the session ids discoverable as saved
// transcripts under dir, without loading any of them. A missing directory
// yields an empty list rather than an error, matching Load's treatment of
// a missing file.
func ListTranscripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionstore: list %s: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".jsonl" {
			ids = append(ids, sessionIDFromPath(name))
		}
	}
	return ids, nil
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	for _, suffix := range []string{".jsonl", ".meta.json", ".json"} {
		if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
			return base[:len(base)-len(suffix)]
		}
	}
	return base
}
