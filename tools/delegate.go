package tools

import (
	"context"

	"deepagent/agent"
)

// Delegate returns the delegate_task tool.
func Delegate() agent.Tool {
	return &agent.FuncTool{
		ToolName: agent.DelegateToolName,
		ToolDesc: "Delegate a self-contained task to a sub-agent that runs with its own conversation. " +
			"It sees a copy of your files and its file changes are merged back; its answer is returned. " +
			"Optionally name a sub-agent profile (research-agent, writing-agent, analysis-agent) " +
			"and restrict the tools it may use.",
		ToolParams: schema([]string{"task"}, map[string]any{
			"task": prop("string", "What the sub-agent should do"),
			"allowed_tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Tool names the sub-agent may use (default: all except delegate_task)",
			},
			"agent": prop("string", "Sub-agent profile name"),
		}),
		Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
			task, err := agent.StringArg(args, "task")
			if err != nil {
				return "", err
			}
			allowed, err := agent.StringSliceArg(args, "allowed_tools")
			if err != nil {
				return "", err
			}
			name, err := agent.StringArg(args, "agent")
			if err != nil {
				return "", err
			}
			return scope.Delegate(ctx, agent.DelegationRequest{Task: task, AllowedTools: allowed, Agent: name})
		},
	}
}
