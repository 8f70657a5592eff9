package sessionstore

import (
	"os"
	"testing"

	"github.com/agentcore/runtime/pkg/models"
)

func msg(id, role string) *models.Message {
	return &models.Message{ID: id, Role: models.Role(role), Content: id}
}

func TestAppend_ChainsParentToCurrent(t *testing.T) {
	tr := New("s1")
	if err := tr.Append(msg("m1", "user")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Append(msg("m2", "assistant")); err != nil {
		t.Fatal(err)
	}

	m2, _ := tr.GetMessage("m2")
	if m2.ParentID != "m1" {
		t.Errorf("m2.ParentID = %q, want m1", m2.ParentID)
	}
	if tr.CurrentID() != "m2" {
		t.Errorf("CurrentID = %q, want m2", tr.CurrentID())
	}
}

func TestAppendMany_ChainsSequentially(t *testing.T) {
	tr := New("s1")
	if err := tr.AppendMany([]*models.Message{msg("a", "user"), msg("b", "assistant"), msg("c", "tool_result")}); err != nil {
		t.Fatal(err)
	}
	path := tr.GetPath()
	if len(path) != 3 || path[0].ID != "a" || path[1].ID != "b" || path[2].ID != "c" {
		t.Fatalf("unexpected path: %+v", path)
	}
}

func TestBranch_UnknownIDErrors(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("a", "user"))
	if err := tr.Branch("nope"); err == nil {
		t.Error("expected error branching to unknown id")
	}
}

func TestBranch_ToCurrentIsNoop(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("a", "user"))
	before := tr.CurrentID()
	if err := tr.Branch(before); err != nil {
		t.Fatal(err)
	}
	if tr.CurrentID() != before {
		t.Errorf("CurrentID changed after no-op branch")
	}
}

// Branching does not mutate any existing message; the original subtree
// stays reachable via GetTree.
func TestBranch_DoesNotMutateOriginalSubtree(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("user1", "user"))
	tr.Append(msg("asst1", "assistant"))

	if err := tr.Branch("user1"); err != nil {
		t.Fatal(err)
	}
	tr.Append(msg("asst2", "assistant"))

	tree := tr.GetTree()
	if len(tree) != 1 {
		t.Fatalf("expected single root, got %d", len(tree))
	}
	root := tree[0]
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children after branch+append, got %d", len(root.Children))
	}

	path := tr.GetPath()
	if len(path) != 2 || path[1].ID != "asst2" {
		t.Fatalf("GetPath after branch should only contain the new branch, got %+v", path)
	}
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	tr := New("s1")
	tr.Append(msg("a", "user"))
	tr.Append(msg("b", "assistant"))
	tr.Branch("a")
	tr.Append(msg("c", "assistant"))

	if err := tr.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadStrict(dir + "/s1.jsonl")
	if err != nil {
		t.Fatal(err)
	}

	if loaded.CurrentID() != tr.CurrentID() {
		t.Errorf("CurrentID = %q, want %q", loaded.CurrentID(), tr.CurrentID())
	}
	if loaded.Len() != tr.Len() {
		t.Errorf("Len = %d, want %d", loaded.Len(), tr.Len())
	}
	wantPath := tr.GetPath()
	gotPath := loaded.GetPath()
	if len(gotPath) != len(wantPath) {
		t.Fatalf("path length mismatch: %d vs %d", len(gotPath), len(wantPath))
	}
	for i := range wantPath {
		if gotPath[i].ID != wantPath[i].ID {
			t.Errorf("path[%d] = %q, want %q", i, gotPath[i].ID, wantPath[i].ID)
		}
	}
}

func TestLoad_MissingFileYieldsEmptySession(t *testing.T) {
	tr := Load("/nonexistent/path/s9.jsonl")
	if tr.Len() != 0 {
		t.Errorf("expected empty tree for missing file, got %d messages", tr.Len())
	}
	if tr.SessionID() != "s9" {
		t.Errorf("SessionID = %q, want s9", tr.SessionID())
	}
}

func TestLoad_CorruptFileYieldsEmptySession(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.jsonl"
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := Load(path)
	if tr.Len() != 0 {
		t.Errorf("expected empty tree for corrupt file, got %d messages", tr.Len())
	}
}

// save; load; save; load is stable after the first iteration.
func TestSaveLoad_Idempotent(t *testing.T) {
	dir := t.TempDir()
	tr := New("s1")
	tr.Append(msg("a", "user"))
	tr.Append(msg("b", "assistant"))
	tr.Save(dir)

	first, _ := LoadStrict(dir + "/s1.jsonl")
	first.Save(dir)
	second, _ := LoadStrict(dir + "/s1.jsonl")

	if first.CurrentID() != second.CurrentID() || first.Len() != second.Len() {
		t.Error("save/load was not stable across a second round trip")
	}
}

func TestSaveBranch_SwitchRestoresLineage(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("u1", "user"))
	tr.Append(msg("a1", "assistant"))

	if _, err := tr.SaveBranch("first-answer"); err != nil {
		t.Fatal(err)
	}

	tr.Branch("u1")
	tr.Append(msg("a2", "assistant"))
	if tr.CurrentID() != "a2" {
		t.Fatalf("CurrentID = %q, want a2", tr.CurrentID())
	}

	if err := tr.SwitchBranch("first-answer"); err != nil {
		t.Fatal(err)
	}
	if tr.CurrentID() != "a1" {
		t.Errorf("CurrentID = %q after switch, want a1", tr.CurrentID())
	}
}

func TestSaveBranch_ReusingNameMovesHead(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("u1", "user"))
	b1, err := tr.SaveBranch("wip")
	if err != nil {
		t.Fatal(err)
	}
	tr.Append(msg("a1", "assistant"))
	b2, err := tr.SaveBranch("wip")
	if err != nil {
		t.Fatal(err)
	}
	if b1.ID != b2.ID {
		t.Error("re-saving a branch name should update the same record")
	}
	if b2.HeadID != "a1" {
		t.Errorf("HeadID = %q, want a1", b2.HeadID)
	}
	if got := len(tr.Branches()); got != 1 {
		t.Errorf("expected 1 branch, got %d", got)
	}
}

func TestSwitchBranch_UnknownNameErrors(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("u1", "user"))
	if err := tr.SwitchBranch("never-saved"); err == nil {
		t.Error("expected error switching to an unknown branch")
	}
}

func TestSaveLoad_PreservesNamedBranches(t *testing.T) {
	dir := t.TempDir()
	tr := New("s1")
	tr.Append(msg("u1", "user"))
	tr.Append(msg("a1", "assistant"))
	if _, err := tr.SaveBranch("keep"); err != nil {
		t.Fatal(err)
	}
	tr.Branch("u1")
	tr.Append(msg("a2", "assistant"))
	if err := tr.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadStrict(dir + "/s1.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.SwitchBranch("keep"); err != nil {
		t.Fatal(err)
	}
	if loaded.CurrentID() != "a1" {
		t.Errorf("CurrentID = %q after reload+switch, want a1", loaded.CurrentID())
	}
}

func TestReplacePathSegment_ReplacesOnlyPrefix(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("u1", "user"))
	tr.Append(msg("a1", "assistant"))
	tr.Append(msg("u2", "user"))
	tr.Append(msg("a2", "assistant"))

	summary := msg("sum1", "system")
	if err := tr.ReplacePathSegment([]string{"u1", "a1"}, summary); err != nil {
		t.Fatal(err)
	}

	path := tr.GetPath()
	if len(path) != 3 {
		t.Fatalf("expected 3 messages after replacement, got %d: %+v", len(path), path)
	}
	if path[0].ID != "sum1" || path[1].ID != "u2" || path[2].ID != "a2" {
		t.Fatalf("unexpected path after replacement: %+v", path)
	}
	if _, err := tr.GetMessage("u1"); err == nil {
		t.Error("expected u1 to be removed")
	}
}

func TestReplacePathSegment_RejectsNonPrefix(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("u1", "user"))
	tr.Append(msg("a1", "assistant"))
	tr.Append(msg("u2", "user"))

	err := tr.ReplacePathSegment([]string{"a1", "u2"}, msg("sum", "system"))
	if err == nil {
		t.Error("expected error replacing a non-prefix segment")
	}
}

// Replacing an empty prefix is rejected rather than silently accepted.
func TestReplacePathSegment_EmptyIsError(t *testing.T) {
	tr := New("s1")
	tr.Append(msg("u1", "user"))
	if err := tr.ReplacePathSegment(nil, msg("sum", "system")); err == nil {
		t.Error("expected error for empty prefix")
	}
}
