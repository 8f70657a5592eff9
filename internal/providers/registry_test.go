package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/agentcore/runtime/pkg/models"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Stream(ctx context.Context, model string, messages []*models.Message, tools []ToolDescriptor, system string, opts StreamOptions) (*StreamHandle, error) {
	chunks := make(chan []byte)
	close(chunks)
	return &StreamHandle{Chunks: chunks, Err: make(chan error), Cancel: func() {}}, nil
}

func (s *stubProvider) ParseStreamEvent(raw []byte) ([]StreamEvent, error) {
	return nil, nil
}

func (s *stubProvider) ConvertMessages(model string, messages []*models.Message) (json.RawMessage, error) {
	return json.Marshal(messages)
}

func (s *stubProvider) ConvertTools(tools []ToolDescriptor) (json.RawMessage, error) {
	return json.Marshal(tools)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "anthropic"})
	r.Register(&stubProvider{name: "openai"})

	p, ok := r.Get("anthropic")
	if !ok {
		t.Fatal("expected anthropic to be registered")
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}

	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected nonexistent provider lookup to fail")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "a"})
	r.Register(&stubProvider{name: "b"})

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	first := &stubProvider{name: "anthropic"}
	second := &stubProvider{name: "anthropic"}
	r.Register(first)
	r.Register(second)

	got, _ := r.Get("anthropic")
	if got != second {
		t.Error("expected second registration to replace the first")
	}
	if len(r.Names()) != 1 {
		t.Errorf("expected single entry after replace, got %d", len(r.Names()))
	}
}
