// Package tools holds the eight MCP tools and the dispatcher that routes,
// validates and wraps their calls in the response envelope. Tools receive
// schema-checked arguments; anything structural is rejected before a handler
// runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool is the interface every MCP tool implements.
type Tool interface {
	// Name returns the tool identifier (e.g. "jive_manage_work_item").
	Name() string

	// Description returns a human-readable description for tools/list.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() map[string]any

	// Handle runs the tool with schema-validated arguments.
	Handle(ctx context.Context, call *Call, args map[string]any) (any, error)
}

// Call carries per-request state through a handler: the resolved namespace,
// the request id, and warnings surfaced in the response metadata.
type Call struct {
	Namespace string
	RequestID string

	warnings []string
}

// Warn appends a non-fatal warning to the call's metadata.
func (c *Call) Warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// Warnings returns the warnings collected so far.
func (c *Call) Warnings() []string {
	return c.warnings
}

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the available tools with their compiled argument schemas.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registered)}
}

// Register compiles the tool's argument schema and adds it to the registry.
func (r *Registry) Register(tool Tool) error {
	schema, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("register %s: %w", tool.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = registered{tool: tool, schema: schema}
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition is one tool's entry in a tools/list response.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Definitions returns the tool definitions in name order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		defs = append(defs, Definition{
			Name:        reg.tool.Name(),
			Description: reg.tool.Description(),
			InputSchema: reg.tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) lookup(name string) (registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// compileSchema round-trips the schema through JSON so the compiler sees
// plain decoded values regardless of how the literal was typed.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}
