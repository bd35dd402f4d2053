package agent

import (
	"fmt"
	"strings"

	"deepagent/llm"
)

// Message represents a chat message in a thread.
type Message struct {
	Role       string     `json:"role"` // "user", "agent", "tool" ("system" only in requests)
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == "tool"
	Name       string     `json:"name,omitempty"`         // tool name when Role == "tool"
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall represents the model's request to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult holds the outcome of one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// --- Role constants ---

const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleTool   = "tool"
)

// ValidRole returns true if r is a known message role.
func ValidRole(r string) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAgent, RoleTool:
		return true
	}
	return false
}

// --- Constructors ---

// Human creates a user message.
func Human(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// System creates a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AI creates an agent message with optional tool calls.
//
//	AI("Sure, I can help.")  → plain answer
//	AI("", tc1, tc2)         → tool-calling turn
func AI(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAgent, Content: content, ToolCalls: toolCalls}
}

// ToolMsg creates a tool result message.
func ToolMsg(r ToolResult) Message {
	return Message{Role: RoleTool, Content: r.Content, ToolCallID: r.ToolCallID, Name: r.Name, IsError: r.IsError}
}

// --- Messages chain type ---

// Messages is an ordered list of messages.
type Messages []Message

// Last returns the last message, or a zero Message if empty.
func (m Messages) Last() Message {
	if len(m) == 0 {
		return Message{}
	}
	return m[len(m)-1]
}

// ByRole returns messages with the given role.
func (m Messages) ByRole(role string) Messages {
	var out Messages
	for _, msg := range m {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

// Validate checks that the chain is well-formed:
//   - all roles are valid
//   - every tool message answers a call from the closest preceding agent turn
//   - agent messages have content or tool calls
func (m Messages) Validate() error {
	open := map[string]bool{}
	for i, msg := range m {
		if !ValidRole(msg.Role) {
			return fmt.Errorf("message[%d]: unknown role %q", i, msg.Role)
		}
		switch msg.Role {
		case RoleAgent:
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				return fmt.Errorf("message[%d]: agent message has no content and no tool calls", i)
			}
			open = map[string]bool{}
			for j, tc := range msg.ToolCalls {
				if tc.ID == "" || tc.Name == "" {
					return fmt.Errorf("message[%d].tool_calls[%d]: missing id or name", i, j)
				}
				open[tc.ID] = true
			}
		case RoleTool:
			if !open[msg.ToolCallID] {
				return fmt.Errorf("message[%d]: tool result %q has no matching call", i, msg.ToolCallID)
			}
			delete(open, msg.ToolCallID)
		case RoleUser:
			if msg.Content == "" {
				return fmt.Errorf("message[%d]: user message has empty content", i)
			}
			open = map[string]bool{}
		}
	}
	return nil
}

// PrettyPrint returns a human-readable transcript.
func (m Messages) PrettyPrint() string {
	var sb strings.Builder
	for _, msg := range m {
		switch msg.Role {
		case RoleTool:
			status := "ok"
			if msg.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "[Tool: %s (%s)]\n", msg.Name, status)
		case RoleAgent:
			sb.WriteString("[Agent]\n")
		case RoleUser:
			sb.WriteString("[Human]\n")
		default:
			fmt.Fprintf(&sb, "[%s]\n", msg.Role)
		}
		if msg.Content != "" {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&sb, "  → %s(%v)\n", tc.Name, tc.Args)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// toLLM converts the thread history to the provider-neutral wire shape.
func toLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		wire := llm.Message{Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		switch m.Role {
		case RoleAgent:
			wire.Role = llm.RoleAssistant
		case RoleTool:
			wire.Role = llm.RoleTool
		case RoleSystem:
			wire.Role = llm.RoleSystem
		default:
			wire.Role = llm.RoleUser
		}
		for _, tc := range m.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
		}
		out = append(out, wire)
	}
	return out
}
