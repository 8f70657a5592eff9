package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/tools"
)

func TestReadFileTool_ReadsWithinRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &ReadFileTool{Root: dir}
	input, _ := json.Marshal(ReadFileInput{Path: "notes.txt"})
	res, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || res.Content != "hello" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestReadFileTool_RejectsEscape(t *testing.T) {
	dir := t.TempDir()
	tool := &ReadFileTool{Root: dir}
	input, _ := json.Marshal(ReadFileInput{Path: "../../etc/passwd"})
	res, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected path escape to be rejected")
	}
}

func TestCurrentTimeTool_ReturnsRFC3339(t *testing.T) {
	res, err := CurrentTimeTool{}.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := time.Parse(time.RFC3339, res.Content); err != nil {
		t.Errorf("expected RFC3339 timestamp, got %q: %v", res.Content, err)
	}
}

func TestRegister_AddsBothTools(t *testing.T) {
	r := tools.NewRegistry()
	if err := Register(r, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("read_file"); !ok {
		t.Error("expected read_file to be registered")
	}
	if _, ok := r.Get("current_time"); !ok {
		t.Error("expected current_time to be registered")
	}
}
