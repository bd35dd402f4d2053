package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"deepagent/llm"
)

// DelegateToolName is the tool that spawns sub-agents. Child registries omit
// it unless it is requested explicitly.
const DelegateToolName = "delegate_task"

// Tool defines the interface for agent tools.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema
	Execute(ctx context.Context, scope *Scope, args map[string]any) (string, error)
}

// FuncTool wraps a plain function as a Tool.
type FuncTool struct {
	ToolName   string
	ToolDesc   string
	ToolParams map[string]any
	Fn         func(ctx context.Context, scope *Scope, args map[string]any) (string, error)
}

func (f *FuncTool) Name() string               { return f.ToolName }
func (f *FuncTool) Description() string        { return f.ToolDesc }
func (f *FuncTool) Parameters() map[string]any { return f.ToolParams }
func (f *FuncTool) Execute(ctx context.Context, scope *Scope, args map[string]any) (string, error) {
	return f.Fn(ctx, scope, args)
}

// DelegateFunc runs a delegated task and returns the child's final answer.
type DelegateFunc func(ctx context.Context, req DelegationRequest) (string, error)

// Scope is the working context a tool handler runs against.
type Scope struct {
	State    *ThreadState
	Depth    int
	delegate DelegateFunc
}

// NewScope builds a Scope. delegate may be nil, in which case Delegate fails.
func NewScope(state *ThreadState, depth int, delegate DelegateFunc) *Scope {
	return &Scope{State: state, Depth: depth, delegate: delegate}
}

// Delegate runs req as a nested agent loop.
func (s *Scope) Delegate(ctx context.Context, req DelegationRequest) (string, error) {
	if s.delegate == nil {
		return "", errors.New("delegation is not available in this context")
	}
	req.Depth = s.Depth
	return s.delegate(ctx, req)
}

// Registry is the static name → tool table exposed to the model.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from tools; duplicate names are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) error {
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the tool schemas for the model, sorted by name.
func (r *Registry) Schemas() []llm.ToolSchema {
	names := r.Names()
	out := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, llm.ToolSchema{Name: name, Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}

// Restrict returns a registry holding only the named tools. An empty list
// keeps every tool except delegation.
func (r *Registry) Restrict(names []string) (*Registry, error) {
	out := &Registry{tools: map[string]Tool{}}
	if len(names) == 0 {
		for name, t := range r.tools {
			if name != DelegateToolName {
				out.tools[name] = t
			}
		}
		return out, nil
	}
	var unknown []string
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out.tools[name] = t
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown tools in allowed_tools: %s", ErrInvalidArguments, strings.Join(unknown, ", "))
	}
	return out, nil
}

// Dispatch resolves, validates and executes call. Every failure is folded
// into an error result; Dispatch itself never fails.
func (r *Registry) Dispatch(ctx context.Context, scope *Scope, call ToolCall) ToolResult {
	res := ToolResult{ToolCallID: call.ID, Name: call.Name}

	t, ok := r.tools[call.Name]
	if !ok {
		return errorResult(res, fmt.Errorf("%w: %q (available: %s)", ErrUnknownTool, call.Name, strings.Join(r.Names(), ", ")))
	}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := ValidateArgs(t.Parameters(), args); err != nil {
		return errorResult(res, err)
	}

	out, err := t.Execute(ctx, scope, args)
	if err != nil {
		return errorResult(res, err)
	}
	res.Content = out
	return res
}

func errorResult(res ToolResult, err error) ToolResult {
	res.IsError = true
	res.Content = "Error: " + err.Error()
	return res
}
