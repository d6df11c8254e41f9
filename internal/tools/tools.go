// Package tools defines the tool descriptors handed to the agent and an
// ordered registry that looks them up and executes them by name.
package tools

import (
	"context"
	"fmt"
)

// Handler executes a tool call with decoded JSON arguments and returns
// the text result shown to the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools in registration order. It is built once
// per agent and not modified while the agent runs, so it carries no lock.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates a registry holding ts, in order.
func NewRegistry(ts ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool. A tool with the same name replaces the earlier one
// but keeps its original position.
func (r *Registry) Register(t *Tool) {
	if t == nil || t.Name == "" {
		return
	}
	if _, ok := r.tools[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// All returns the registered tools in registration order.
func (r *Registry) All() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns provider-neutral tool definitions in registration
// order: {"name", "description", "parameters"}. Tools without a schema
// get an empty object schema.
func (r *Registry) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.order))
	for _, t := range r.All() {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}
	return defs
}

// Execute runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.tools[name]
	if t == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if t.Handler == nil {
		return "", fmt.Errorf("tool %s has no handler", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args)
}
