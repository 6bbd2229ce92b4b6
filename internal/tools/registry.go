// Package tools lets the model act on the user's profile through function
// calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vnmchuo/assistant-queue/internal/provider"
)

// Call identifies who a tool acts for.
type Call struct {
	UserID string
	ChatID string
}

type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON Schema of the arguments object.
	Schema() json.RawMessage
	// Execute runs the tool. Domain failures are reported in the result
	// with success=false; an error means the call itself could not run.
	Execute(ctx context.Context, call Call, args json.RawMessage) (map[string]any, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

type Registry struct {
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds t. It panics on a duplicate name or an invalid schema, both
// of which are wiring bugs.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	if _, dup := r.tools[name]; dup {
		panic(fmt.Sprintf("tools: duplicate tool %q", name))
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(t.Schema()))
	if err != nil {
		panic(fmt.Sprintf("tools: invalid schema for %q: %v", name, err))
	}
	r.tools[name] = entry{tool: t, schema: compiled}
}

func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.tools[name]
	return e.tool, ok
}

// Definitions describes every registered tool to the model, sorted by name.
func (r *Registry) Definitions() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, provider.ToolDef{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates args against the tool's schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, call Call, args json.RawMessage) (map[string]any, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := e.schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return e.tool.Execute(ctx, call, args)
}
