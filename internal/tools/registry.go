package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentcore/runtime/pkg/models"
)

// MaxParamsSize bounds the serialized size of a single tool call's
// parameters, guarding the executor against a runaway model response.
const MaxParamsSize = 10 << 20

// Registry holds the set of tools available to an agent, keyed by name, and
// validates incoming calls against each tool's declared parameter schema
// before dispatch.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces a tool. If the tool's ParametersSchema fails to
// compile, Register returns an error and the tool is not added; a
// previously registered tool under the same name is left untouched.
func (r *Registry) Register(t Tool) error {
	schema := t.ParametersSchema()
	var compiled *jsonschema.Schema
	if len(schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(t.Name()+".schema.json", bytes.NewReader(schema)); err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", t.Name(), err)
		}
		s, err := compiler.Compile(t.Name() + ".schema.json")
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", t.Name(), err)
		}
		compiled = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	if compiled != nil {
		r.schemas[t.Name()] = compiled
	} else {
		delete(r.schemas, t.Name())
	}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns the name/description/schema triple for every
// registered tool, in a stable order, for handing to a provider.
func (r *Registry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolDescriptor{Name: t.Name(), Description: t.Description(), Parameters: t.ParametersSchema()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolDescriptor mirrors providers.ToolDescriptor without importing that
// package, keeping tools free of a dependency on the provider layer; the
// agentloop package is responsible for bridging the two shapes.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// validate checks raw input against the tool's compiled schema, if any. A
// tool with no schema accepts any input unchecked.
func (r *Registry) validate(name string, input json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any
	if len(input) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("tools: parameters are not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tools: parameters failed schema validation: %w", err)
	}
	return nil
}

// Execute runs a tool by name after validating its parameters. A missing
// tool or a schema violation is synthesized as an error ToolResult rather
// than a Go error, matching how the agent loop turns every call into
// exactly one tool_result message regardless of how it failed.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	if len(input) > MaxParamsSize {
		return &models.ToolResult{Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxParamsSize), IsError: true}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}

	if err := r.validate(name, input); err != nil {
		return &models.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	return tool.Execute(ctx, input)
}
