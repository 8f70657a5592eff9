package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agentcore/runtime/pkg/models"
)

// SQLStore is the durable store backend for deployments that want a real
// database behind session persistence instead of (or alongside) the JSONL
// transcript files Save/Load produce, backed by `database/sql` so either
// Postgres (`lib/pq`) or embedded SQLite (`modernc.org/sqlite`, CGO-free)
// serves as the driver. It round-trips every message and the current leaf;
// named branches are not stored, and roots are reloaded in created_at
// order rather than the tree's recorded root order. Concurrent saves of the
// same session are still serialized by the owning session goroutine;
// SQLStore itself adds no locking beyond the transaction each Save runs
// inside (Load reads without a transaction).
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens (and, if necessary, migrates) a SQL-backed store.
// driver is either "postgres" or "sqlite".
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("sessionstore: unsupported SQL driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", driver, err)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreWithDB wraps an already-open *sql.DB (e.g. one created via
// sql.Open for a sqlmock-driven test), skipping migration so tests can
// control exactly which statements the mock expects.
func NewSQLStoreWithDB(driver string, db *sql.DB) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT NOT NULL,
			id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			thinking TEXT NOT NULL DEFAULT '',
			tool_calls TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			is_error BOOLEAN NOT NULL DEFAULT FALSE,
			metadata TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_meta (
			session_id TEXT PRIMARY KEY,
			current_id TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sessionstore: migrate: %w", err)
		}
	}
	return nil
}

// ph returns the driver-appropriate positional placeholder: lib/pq requires
// "$1"-style, modernc.org/sqlite accepts plain "?".
func (s *SQLStore) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Save replaces every row belonging to tree's session with its current
// in-memory state, inside one transaction, so a concurrent reader never
// observes a half-written tree. Named branches are not written.
func (s *SQLStore) Save(ctx context.Context, t *Tree) error {
	t.mu.Lock()
	sessionID := t.sessionID
	current := t.current
	msgs := make([]*models.Message, 0, len(t.nodes))
	for _, n := range t.nodes {
		msgs = append(msgs, n.msg)
	}
	t.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessionstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	del := fmt.Sprintf(`DELETE FROM session_messages WHERE session_id = %s`, s.ph(1))
	if _, err := tx.ExecContext(ctx, del, sessionID); err != nil {
		return fmt.Errorf("sessionstore: clear messages: %w", err)
	}

	insert := fmt.Sprintf(`INSERT INTO session_messages
		(session_id, id, parent_id, role, content, thinking, tool_calls, tool_call_id, is_error, metadata, created_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11))
	for _, m := range msgs {
		toolCalls, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("sessionstore: marshal tool_calls for %s: %w", m.ID, err)
		}
		metadata, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("sessionstore: marshal metadata for %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			sessionID, m.ID, m.ParentID, string(m.Role), m.Content, m.Thinking,
			string(toolCalls), m.ToolCallID, m.IsError, string(metadata),
			m.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("sessionstore: insert message %s: %w", m.ID, err)
		}
	}

	upsert := fmt.Sprintf(`INSERT INTO session_meta (session_id, current_id) VALUES (%s, %s)
		ON CONFLICT (session_id) DO UPDATE SET current_id = EXCLUDED.current_id`, s.ph(1), s.ph(2))
	if _, err := tx.ExecContext(ctx, upsert, sessionID, current); err != nil {
		return fmt.Errorf("sessionstore: upsert meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sessionstore: commit: %w", err)
	}
	return nil
}

// Load reconstructs a Tree for sessionID from the database. A session
// with no rows yields an empty tree, matching the file loader's treatment
// of missing data.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*Tree, error) {
	t := New(sessionID)

	q := fmt.Sprintf(`SELECT id, parent_id, role, content, thinking, tool_calls, tool_call_id, is_error, metadata, created_at
		FROM session_messages WHERE session_id = %s ORDER BY created_at ASC`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: query messages: %w", err)
	}
	defer rows.Close()

	var scanned []string
	for rows.Next() {
		var (
			id, parentID, role, content, thinking, toolCallsJSON, toolCallID, metadataJSON, createdAt string
			isError                                                                                  bool
		)
		if err := rows.Scan(&id, &parentID, &role, &content, &thinking, &toolCallsJSON, &toolCallID, &isError, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("sessionstore: scan message: %w", err)
		}

		m := &models.Message{
			ID: id, SessionID: sessionID, ParentID: parentID, Role: models.Role(role),
			Content: content, Thinking: thinking, ToolCallID: toolCallID, IsError: isError,
		}
		if toolCallsJSON != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("sessionstore: decode tool_calls for %s: %w", id, err)
			}
		}
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &m.Metadata); err != nil {
				return nil, fmt.Errorf("sessionstore: decode metadata for %s: %w", id, err)
			}
		}
		if ts, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			m.CreatedAt = ts
		}

		t.nodes[id] = &node{msg: m, parentID: parentID}
		scanned = append(scanned, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: iterate messages: %w", err)
	}

	// Link children in a second pass, preserving scan (created_at) order:
	// a compaction summary is created later than the suffix messages it
	// becomes the parent of, so parents are not guaranteed to scan first.
	for _, id := range scanned {
		n := t.nodes[id]
		if n.parentID == "" {
			t.roots = append(t.roots, id)
		} else if parent, ok := t.nodes[n.parentID]; ok {
			parent.children = append(parent.children, id)
		}
	}

	metaQ := fmt.Sprintf(`SELECT current_id FROM session_meta WHERE session_id = %s`, s.ph(1))
	var currentID string
	if err := s.db.QueryRowContext(ctx, metaQ, sessionID).Scan(&currentID); err == nil {
		t.current = currentID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sessionstore: query meta: %w", err)
	}

	return t, nil
}

// ListSessionIDs returns every distinct session id with at least one
// stored message.
func (s *SQLStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM session_messages ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sessionstore: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
