// Package llm is the model-completion collaborator: a small provider-neutral
// request/response shape plus OpenAI-compatible and Anthropic HTTP clients.
package llm

import (
	"context"
	"errors"
)

// ErrNoProvider is returned by Resolve when no credentials are configured.
var ErrNoProvider = errors.New("no LLM provider configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY")

// Client completes a conversation. Implementations must be safe for
// concurrent use; one Client serves every thread.
type Client interface {
	Call(ctx context.Context, req Request) (*Response, error)

	// Stream sends deltas and completed tool calls to ch and closes it
	// before returning.
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error
}

// Wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the provider-neutral history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model, both as parsed from a
// response and as replayed on an assistant message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolSchema advertises one tool: Parameters is a JSON Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Request struct {
	Model        string       `json:"model"`
	Messages     []Message    `json:"messages"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
}

// Response is a finished turn. No ToolCalls means the model answered.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunk carries either a text delta or one fully assembled tool call.
type StreamChunk struct {
	Delta    string    `json:"delta,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Done     bool      `json:"done,omitempty"`
	Error    error     `json:"-"`
}

// Collect drains a Stream call into a single Response. onDelta, when set, sees
// each non-empty text delta as it arrives. The first chunk error wins.
func Collect(ctx context.Context, c Client, req Request, onDelta func(string)) (*Response, error) {
	ch := make(chan StreamChunk, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Stream(ctx, req, ch) }()

	resp := &Response{}
	var chunkErr error
	for chunk := range ch {
		if chunk.Error != nil {
			if chunkErr == nil {
				chunkErr = chunk.Error
			}
			continue
		}
		if chunk.Delta != "" {
			resp.Content += chunk.Delta
			if onDelta != nil {
				onDelta(chunk.Delta)
			}
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if chunkErr != nil {
		return nil, chunkErr
	}
	return resp, nil
}

// Unavailable is a Client that fails every call with Err. The server runs
// with it when no provider is configured so requests report 503 instead of
// the process refusing to start.
type Unavailable struct {
	Err error
}

func (u Unavailable) Call(ctx context.Context, req Request) (*Response, error) {
	return nil, u.Err
}

func (u Unavailable) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	close(ch)
	return u.Err
}
