package models

import "testing"

func TestNewBranch(t *testing.T) {
	b := NewBranch("sess-1", "experiment", "msg-42")
	if b.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if b.SessionID != "sess-1" || b.Name != "experiment" || b.HeadID != "msg-42" {
		t.Errorf("unexpected fields: %+v", b)
	}
	if b.IsPrimary {
		t.Error("a freshly named branch should not be primary")
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}
