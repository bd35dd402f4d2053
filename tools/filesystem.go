package tools

import (
	"context"
	"fmt"
	"strings"

	"deepagent/agent"
)

// Filesystem returns read_file, write_file, edit_file and ls over the
// thread's virtual filesystem.
func Filesystem() []agent.Tool {
	return []agent.Tool{
		&agent.FuncTool{
			ToolName: "read_file",
			ToolDesc: "Read the contents of a file in the virtual filesystem.",
			ToolParams: schema([]string{"path"}, map[string]any{
				"path": prop("string", "Path of the file to read"),
			}),
			Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
				path, err := agent.StringArg(args, "path")
				if err != nil {
					return "", err
				}
				return scope.State.Files.Read(path)
			},
		},
		&agent.FuncTool{
			ToolName: "write_file",
			ToolDesc: "Write content to a file in the virtual filesystem, replacing it if it exists.",
			ToolParams: schema([]string{"path", "content"}, map[string]any{
				"path":    prop("string", "Path of the file to write"),
				"content": prop("string", "Full file content"),
			}),
			Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
				path, err := agent.StringArg(args, "path")
				if err != nil {
					return "", err
				}
				if path == "" {
					return "", fmt.Errorf("%w: path must not be empty", agent.ErrInvalidArguments)
				}
				content, err := agent.StringArg(args, "content")
				if err != nil {
					return "", err
				}
				scope.State.Files.Write(path, content)
				return fmt.Sprintf("Successfully wrote to %s (%d bytes)", path, len(content)), nil
			},
		},
		&agent.FuncTool{
			ToolName: "edit_file",
			ToolDesc: "Replace the first occurrence of 'match' with 'replacement' in an existing file.",
			ToolParams: schema([]string{"path", "match", "replacement"}, map[string]any{
				"path":        prop("string", "Path of the file to edit"),
				"match":       prop("string", "Exact text to find"),
				"replacement": prop("string", "Text to put in its place"),
			}),
			Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
				path, err := agent.StringArg(args, "path")
				if err != nil {
					return "", err
				}
				match, err := agent.StringArg(args, "match")
				if err != nil {
					return "", err
				}
				replacement, err := agent.StringArg(args, "replacement")
				if err != nil {
					return "", err
				}
				if err := scope.State.Files.Edit(path, match, replacement); err != nil {
					return "", err
				}
				return "Successfully replaced content in " + path, nil
			},
		},
		&agent.FuncTool{
			ToolName: "ls",
			ToolDesc: "List file paths in the virtual filesystem, optionally only those starting with a prefix.",
			ToolParams: schema(nil, map[string]any{
				"prefix": prop("string", "Only list paths starting with this prefix"),
			}),
			Fn: func(ctx context.Context, scope *agent.Scope, args map[string]any) (string, error) {
				prefix, err := agent.StringArg(args, "prefix")
				if err != nil {
					return "", err
				}
				paths := scope.State.Files.List(prefix)
				if len(paths) == 0 {
					return "No files.", nil
				}
				return "Files: " + strings.Join(paths, ", "), nil
			},
		},
	}
}
