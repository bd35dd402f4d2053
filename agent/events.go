package agent

import (
	"context"

	"deepagent/plan"
)

// Event types emitted by Stream.
const (
	EventModelStart    = "model_start"
	EventContent       = "content"
	EventToolStart     = "tool_start"
	EventToolEnd       = "tool_end"
	EventStateUpdate   = "state_update"
	EventDelegateStart = "delegate_start"
	EventDelegateEnd   = "delegate_end"
	EventComplete      = "complete"
	EventError         = "error"
)

// StreamEvent is sent from the agent loop to the SSE and websocket handlers.
type StreamEvent struct {
	Type     string            `json:"type"`
	ThreadID string            `json:"thread_id,omitempty"`
	Name     string            `json:"name,omitempty"`   // tool, model or profile name
	RunID    string            `json:"run_id,omitempty"` // tool call id
	Content  string            `json:"content,omitempty"`
	Data     any               `json:"data,omitempty"`
	Files    map[string]string `json:"files,omitempty"`
	Todos    []plan.Todo       `json:"todos,omitempty"`
	Response string            `json:"response,omitempty"` // set on "complete"
	Error    string            `json:"error,omitempty"`    // set on "error"
}

// Terminal reports whether ev ends a stream.
func (ev StreamEvent) Terminal() bool {
	return ev.Type == EventComplete || ev.Type == EventError
}

// emit sends ev unless ch is nil or ctx is done.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
