package sessionstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStoreWithDB("postgres", db), mock
}

func TestSQLStore_Save_ClearsThenInsertsWithinTransaction(t *testing.T) {
	store, mock := setupMockSQLStore(t)

	tr := New("s1")
	if err := tr.Append(msg("m1", "user")); err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_messages").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO session_messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO session_meta").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.Save(context.Background(), tr); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_Save_RollsBackOnInsertError(t *testing.T) {
	store, mock := setupMockSQLStore(t)

	tr := New("s1")
	if err := tr.Append(msg("m1", "user")); err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_messages").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO session_messages").WillReturnError(errBoom)
	mock.ExpectRollback()

	if err := store.Save(context.Background(), tr); err == nil {
		t.Fatal("expected error from failed insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_Load_ReconstructsTreeAndCurrent(t *testing.T) {
	store, mock := setupMockSQLStore(t)

	rows := sqlmock.NewRows([]string{"id", "parent_id", "role", "content", "thinking", "tool_calls", "tool_call_id", "is_error", "metadata", "created_at"}).
		AddRow("m1", "", "user", "hello", "", "", "", false, "", "2024-01-01T00:00:00Z").
		AddRow("m2", "m1", "assistant", "hi", "", "", "", false, "", "2024-01-01T00:00:01Z")
	mock.ExpectQuery("SELECT id, parent_id, role").WithArgs("s1").WillReturnRows(rows)

	metaRows := sqlmock.NewRows([]string{"current_id"}).AddRow("m2")
	mock.ExpectQuery("SELECT current_id FROM session_meta").WithArgs("s1").WillReturnRows(metaRows)

	tr, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.CurrentID() != "m2" {
		t.Errorf("CurrentID = %q, want m2", tr.CurrentID())
	}
	path := tr.GetPath()
	if len(path) != 2 || path[0].ID != "m1" || path[1].ID != "m2" {
		t.Errorf("unexpected path: %+v", path)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

var errBoom = &sqlTestError{"boom"}

type sqlTestError struct{ s string }

func (e *sqlTestError) Error() string { return e.s }
