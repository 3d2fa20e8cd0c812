// Package tool defines the external tool-registry contract the agent
// loop's toolExecute node consumes: named, schema-described tools a
// model can call, invoked by name with deterministic listing order.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateToolName is returned by NewRegistry when two tools share a
// name.
var ErrDuplicateToolName = errors.New("tool: duplicate tool name")

// ErrUnknownTool is returned by Invoke when no registered tool matches
// the call's name.
var ErrUnknownTool = errors.New("tool: unknown tool")

// Definition describes one tool a model may call: its name, a prompt
// description, and a JSON-schema-shaped parameter description.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Call is a single invocation request, carrying the id the model
// assigned the call and the arguments it supplied.
type Call struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Result is what a tool invocation returns: the call it answers and its
// rendered content (the toolExecute node wraps this into a tool-role
// message keyed by "tool:"+CallID).
type Result struct {
	CallID  string
	Content string
}

// Tool is a single named, invocable capability.
type Tool interface {
	Definition() Definition
	Invoke(ctx context.Context, call Call) (Result, error)
}

// FuncTool adapts a plain function to Tool, the common case for tools
// with no state of their own.
type FuncTool struct {
	Def Definition
	Fn  func(ctx context.Context, call Call) (Result, error)
}

func (t FuncTool) Definition() Definition { return t.Def }

func (t FuncTool) Invoke(ctx context.Context, call Call) (Result, error) {
	return t.Fn(ctx, call)
}

// Registry holds a fixed set of uniquely-named tools, exposing them in
// sorted order so prompts built from ListTools are reproducible across
// runs regardless of registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from tools, failing ErrDuplicateToolName
// if two share a Definition().Name.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Definition().Name
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToolName, name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)
	return r, nil
}

// ListTools returns every tool's Definition, sorted by name (UTF-8
// byte order) so the returned slice is stable across calls.
func (r *Registry) ListTools() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// Invoke dispatches call to the named tool, or fails ErrUnknownTool.
func (r *Registry) Invoke(ctx context.Context, call Call) (Result, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	return t.Invoke(ctx, call)
}

// Names returns the sorted tool names currently registered.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
