// Package tools holds the built-in tool table: planning, virtual filesystem
// and sub-agent delegation. Every handler works on the Scope's thread state.
package tools

import (
	"deepagent/agent"
)

// Builtin returns every built-in tool.
func Builtin() []agent.Tool {
	var out []agent.Tool
	out = append(out, Planning()...)
	out = append(out, Filesystem()...)
	out = append(out, Delegate())
	return out
}

// NewRegistry returns a registry holding Builtin plus extra.
func NewRegistry(extra ...agent.Tool) (*agent.Registry, error) {
	return agent.NewRegistry(append(Builtin(), extra...)...)
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
