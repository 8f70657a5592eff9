package sessionstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher watches a session persistence directory for transcript files
// written by a process other than the one holding a given session's
// in-memory Tree — a safety net for the case where two processes share the
// same data directory, since a session's own in-memory state is otherwise
// only ever mutated by its owning goroutine.
// It does not merge external changes automatically; it only notifies
// so the caller can decide whether to reload. Events are not filtered by
// writer: this process's own Save calls trigger notifications too.
type DirWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	onEvent func(sessionID string)
}

// NewDirWatcher starts watching dir. Callers should Close the returned
// watcher on shutdown to release the underlying inotify/kqueue handle.
func NewDirWatcher(dir string, logger *slog.Logger) (*DirWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &DirWatcher{watcher: w, logger: logger}, nil
}

// OnChange registers the callback invoked (from the watcher's own goroutine)
// whenever a transcript file for sessionID is created, written, removed or
// renamed, by any process including this one. Only one callback is held at a
// time; a later call replaces the prior one.
func (d *DirWatcher) OnChange(fn func(sessionID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEvent = fn
}

// Run blocks, dispatching filesystem events until ctx is cancelled or the
// watcher is closed.
func (d *DirWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") {
				continue
			}
			sessionID := sessionIDFromPath(filepath.Base(ev.Name))
			d.mu.Lock()
			cb := d.onEvent
			d.mu.Unlock()
			if cb != nil {
				cb(sessionID)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("sessionstore: watcher error", "error", err)
		}
	}
}

// Close releases the underlying OS watch handle.
func (d *DirWatcher) Close() error {
	return d.watcher.Close()
}
