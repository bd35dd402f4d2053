package agent

import (
	"time"

	"deepagent/plan"
	"deepagent/vfs"
)

// ThreadState is the persisted tuple owned by a thread.
type ThreadState struct {
	ThreadID  string    `json:"thread_id"`
	Messages  Messages  `json:"messages"`
	Todos     plan.List `json:"todos"`
	Files     *vfs.FS   `json:"files"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewThreadState returns an empty state for id.
func NewThreadState(id string) *ThreadState {
	now := time.Now().UTC()
	return &ThreadState{
		ThreadID:  id,
		Messages:  Messages{},
		Todos:     plan.List{},
		Files:     vfs.New(nil),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy with flattened files.
func (s *ThreadState) Clone() *ThreadState {
	out := *s
	out.Messages = make(Messages, len(s.Messages))
	for i, m := range s.Messages {
		if m.ToolCalls != nil {
			m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		out.Messages[i] = m
	}
	out.Todos = s.Todos.Clone()
	if out.Todos == nil {
		out.Todos = plan.List{}
	}
	if s.Files != nil {
		out.Files = s.Files.Clone()
	} else {
		out.Files = vfs.New(nil)
	}
	return &out
}

// Result is the invocation boundary shape.
type Result struct {
	Response string            `json:"response"`
	ThreadID string            `json:"thread_id"`
	Files    map[string]string `json:"files"`
	Todos    []plan.Todo       `json:"todos"`
}

func resultOf(s *ThreadState, response string) *Result {
	return &Result{
		Response: response,
		ThreadID: s.ThreadID,
		Files:    s.Files.Snapshot(),
		Todos:    s.Todos.Read(),
	}
}
