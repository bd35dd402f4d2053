// Package llmtest provides deterministic llm.Client fakes for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"deepagent/llm"
)

// ErrScriptExhausted is returned when a Script has no responses left.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Func is an llm.Client backed by a function. Safe for concurrent use when
// the function is.
type Func func(ctx context.Context, req llm.Request) (*llm.Response, error)

func (f Func) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}

func (f Func) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)
	resp, err := f(ctx, req)
	if err != nil {
		return err
	}
	if resp.Content != "" {
		ch <- llm.StreamChunk{Delta: resp.Content}
	}
	for i := range resp.ToolCalls {
		tc := resp.ToolCalls[i]
		ch <- llm.StreamChunk{ToolCall: &tc}
	}
	ch <- llm.StreamChunk{Done: true}
	return nil
}

// Script replays canned responses in order and records every request.
type Script struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      map[int]error
	requests  []llm.Request
}

// NewScript returns a Script that answers with responses in order.
func NewScript(responses ...*llm.Response) *Script {
	return &Script{responses: responses, errs: map[int]error{}}
}

// FailAt makes the n-th call (0-based) return err.
func (s *Script) FailAt(n int, err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[n] = err
	return s
}

// Requests returns the requests seen so far.
func (s *Script) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Script) next(req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	if err, ok := s.errs[n]; ok {
		return nil, err
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("%w after %d calls", ErrScriptExhausted, n)
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *Script) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return s.next(req)
}

func (s *Script) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	return Func(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return s.next(req)
	}).Stream(ctx, req, ch)
}

// Text is a final answer with no tool calls.
func Text(content string) *llm.Response {
	return &llm.Response{Content: content}
}

// Calls is a response carrying the given tool calls.
func Calls(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{ToolCalls: calls}
}

// Call builds a tool call with a generated id.
func Call(id, name string, args map[string]any) llm.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return llm.ToolCall{ID: id, Name: name, Args: args}
}

// Always returns a client that requests the same tool call forever.
func Always(name string, args map[string]any) Func {
	var mu sync.Mutex
	n := 0
	return func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		mu.Lock()
		n++
		id := fmt.Sprintf("call_%d", n)
		mu.Unlock()
		return Calls(Call(id, name, args)), nil
	}
}
