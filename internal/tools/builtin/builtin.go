// Package builtin provides a small set of tools every agent gets for free:
// filesystem reads scoped to a root directory and a clock tool a model can
// call instead of hallucinating the current time.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/pkg/models"
)

// schemaFor reflects a Go struct into a JSON-Schema fragment suitable for
// Tool.ParametersSchema, so each built-in tool's schema stays in sync with
// its actual input type instead of being hand-maintained JSON text.
func schemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	s := r.Reflect(v)
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("builtin: reflect schema: %v", err))
	}
	return raw
}

// ReadFileInput is ReadFileTool's parameter shape.
type ReadFileInput struct {
	Path string `json:"path" jsonschema:"required,description=path relative to the tool's root directory"`
}

// ReadFileTool reads a UTF-8 text file from within a fixed root directory.
// Paths are resolved and checked against the root so a model can never read
// outside the sandboxed directory via a ".." escape.
type ReadFileTool struct {
	Root string
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Reads a text file relative to the workspace root." }
func (t *ReadFileTool) ParametersSchema() json.RawMessage {
	return schemaFor(new(ReadFileInput))
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var in ReadFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}

	full := filepath.Join(t.Root, in.Path)
	rel, err := filepath.Rel(t.Root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return &models.ToolResult{Content: "path escapes the workspace root", IsError: true}, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return &models.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &models.ToolResult{Content: string(data)}, nil
}

// CurrentTimeInput is CurrentTimeTool's (empty) parameter shape.
type CurrentTimeInput struct{}

// CurrentTimeTool reports the current time in RFC3339, so the model never
// has to guess or hallucinate "now".
type CurrentTimeTool struct{}

func (CurrentTimeTool) Name() string        { return "current_time" }
func (CurrentTimeTool) Description() string { return "Returns the current time in RFC3339 format." }
func (CurrentTimeTool) ParametersSchema() json.RawMessage {
	return schemaFor(new(CurrentTimeInput))
}

func (CurrentTimeTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: time.Now().Format(time.RFC3339)}, nil
}

// Register adds every built-in tool to registry.
func Register(registry *tools.Registry, workspaceRoot string) error {
	if err := registry.Register(&ReadFileTool{Root: workspaceRoot}); err != nil {
		return err
	}
	return registry.Register(CurrentTimeTool{})
}
