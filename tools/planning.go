package tools

import (
	"context"
	"fmt"

	"deepagent/agent"
	"deepagent/plan"
)

// Planning returns read_todos, add_todo and update_todo.
func Planning() []agent.Tool {
	return []agent.Tool{
		&agent.FuncTool{
			ToolName:   "read_todos",
			ToolDesc:   "Read the current TODO list. Each line is '<index>. [<status>] <task>'.",
			ToolParams: schema(nil, map[string]any{}),
			Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
				return scope.State.Todos.Format(), nil
			},
		},
		&agent.FuncTool{
			ToolName: "add_todo",
			ToolDesc: "Add a new task to the TODO list with status 'pending'.",
			ToolParams: schema([]string{"task"}, map[string]any{
				"task": prop("string", "Description of the task"),
			}),
			Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
				task, err := agent.StringArg(args, "task")
				if err != nil {
					return "", err
				}
				if _, err := scope.State.Todos.Add(task); err != nil {
					return "", err
				}
				return "Added TODO: " + task, nil
			},
		},
		&agent.FuncTool{
			ToolName: "update_todo",
			ToolDesc: "Update the status of the TODO at the given 0-based index.",
			ToolParams: schema([]string{"index", "status"}, map[string]any{
				"index":  prop("integer", "0-based index of the TODO"),
				"status": prop("string", "New status: pending, in_progress or completed"),
			}),
			Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
				index, err := agent.IntArg(args, "index")
				if err != nil {
					return "", err
				}
				raw, err := agent.StringArg(args, "status")
				if err != nil {
					return "", err
				}
				status, err := plan.ParseStatus(raw)
				if err != nil {
					return "", err
				}
				if _, err := scope.State.Todos.Update(index, status); err != nil {
					return "", err
				}
				return fmt.Sprintf("Updated TODO %d to %s", index, status), nil
			},
		},
	}
}
