// Package plan holds the ordered, status-tracked TODO list an agent keeps
// for a thread. Todos are addressed by position and are never deleted.
package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the progress state of a Todo.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
)

var (
	ErrIndexOutOfRange = errors.New("todo index out of range")
	ErrInvalidStatus   = errors.New("invalid todo status")
	ErrEmptyTask       = errors.New("todo task must not be empty")
)

// Todo is a single planned task.
type Todo struct {
	Task   string `json:"task"`
	Status Status `json:"status"`
}

// ParseStatus validates s against the three known statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case Pending, InProgress, Completed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q (must be pending, in_progress or completed)", ErrInvalidStatus, s)
}

// List is the ordered todo sequence of one thread.
type List []Todo

// Read returns a copy of the list.
func (l List) Read() []Todo {
	out := make([]Todo, len(l))
	copy(out, l)
	return out
}

// Add appends a pending todo and returns its index.
func (l *List) Add(task string) (int, error) {
	if strings.TrimSpace(task) == "" {
		return 0, ErrEmptyTask
	}
	*l = append(*l, Todo{Task: task, Status: Pending})
	return len(*l) - 1, nil
}

// Update sets the status of the todo at index. Any status may follow any
// other; on error the list is left untouched.
func (l List) Update(index int, status Status) (Todo, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Todo{}, err
	}
	if index < 0 || index >= len(l) {
		return Todo{}, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(l))
	}
	l[index].Status = status
	return l[index], nil
}

// Clone returns an independent copy.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

// Format renders the list the way read_todos reports it to the model.
func (l List) Format() string {
	if len(l) == 0 {
		return "No TODOs."
	}
	var sb strings.Builder
	for i, t := range l {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. [%s] %s", i, t.Status, t.Task)
	}
	return sb.String()
}
