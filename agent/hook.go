package agent

import (
	"context"

	"deepagent/llm"
)

// ModelCallFunc is the signature for the "next" function in the model call chain.
type ModelCallFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

// ToolCallFunc is the signature for the "next" function in the tool call chain.
type ToolCallFunc func(ctx context.Context, call ToolCall) (*ToolResult, error)

// Hook defines the interface for agent middleware (onion ring pattern).
// The first hook in the list is the outermost layer.
type Hook interface {
	// Name returns the hook identifier.
	Name() string

	// BeforeAgent is called once per invocation, after the user message has
	// been appended and before the first model turn.
	BeforeAgent(ctx context.Context, state *ThreadState) error

	// ModifyRequest is called before each model call to adjust the request.
	ModifyRequest(ctx context.Context, req llm.Request) (llm.Request, error)

	// WrapModelCall wraps each model call.
	WrapModelCall(ctx context.Context, req llm.Request, next ModelCallFunc) (*llm.Response, error)

	// WrapToolCall wraps each tool execution.
	WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error)
}

// BaseHook provides pass-through defaults for all hook methods.
// Embed this to only override the methods you need.
type BaseHook struct{}

func (BaseHook) Name() string { return "base" }

func (BaseHook) BeforeAgent(ctx context.Context, state *ThreadState) error {
	return nil
}

func (BaseHook) ModifyRequest(ctx context.Context, req llm.Request) (llm.Request, error) {
	return req, nil
}

func (BaseHook) WrapModelCall(ctx context.Context, req llm.Request, next ModelCallFunc) (*llm.Response, error) {
	return next(ctx, req)
}

func (BaseHook) WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error) {
	return next(ctx, call)
}

// chainModel wraps base with hooks; index 0 is outermost.
func chainModel(hooks []Hook, base ModelCallFunc) ModelCallFunc {
	fn := base
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		prev := fn
		fn = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return hook.WrapModelCall(ctx, req, prev)
		}
	}
	return fn
}

// chainTool wraps base with hooks; index 0 is outermost.
func chainTool(hooks []Hook, base ToolCallFunc) ToolCallFunc {
	fn := base
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		prev := fn
		fn = func(ctx context.Context, call ToolCall) (*ToolResult, error) {
			return hook.WrapToolCall(ctx, call, prev)
		}
	}
	return fn
}
