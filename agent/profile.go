package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Profile is a named sub-agent template: a system prompt plus the tools it
// gets when delegate_task names it without an explicit allowed_tools list.
type Profile struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Tools        []string `yaml:"tools" json:"tools,omitempty"`
}

// ProfileSet is a concurrency-safe profile table. It is replaced wholesale
// when agents.yaml is reloaded.
type ProfileSet struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewProfileSet builds a set from profiles; later duplicates win.
func NewProfileSet(profiles ...Profile) *ProfileSet {
	ps := &ProfileSet{}
	ps.Replace(profiles)
	return ps
}

// Get returns the named profile.
func (ps *ProfileSet) Get(name string) (Profile, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.profiles[name]
	return p, ok
}

// List returns all profiles sorted by name.
func (ps *ProfileSet) List() []Profile {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]Profile, 0, len(ps.profiles))
	for _, p := range ps.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Replace swaps the whole table.
func (ps *ProfileSet) Replace(profiles []Profile) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		m[p.Name] = p
	}
	ps.mu.Lock()
	ps.profiles = m
	ps.mu.Unlock()
}

// Describe renders "- name: description" lines for prompts and tool docs.
func (ps *ProfileSet) Describe() string {
	var lines []string
	for _, p := range ps.List() {
		lines = append(lines, fmt.Sprintf("- %s: %s", p.Name, p.Description))
	}
	if len(lines) == 0 {
		return "No sub-agents available."
	}
	return strings.Join(lines, "\n")
}

// DefaultProfiles returns the built-in research, writing and analysis agents.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:         "research-agent",
			Description:  "Specialized in researching topics and gathering information",
			SystemPrompt: "You are a research specialist. Your role is to conduct thorough research on topics, gather relevant information, and provide comprehensive summaries.",
		},
		{
			Name:         "writing-agent",
			Description:  "Specialized in writing and content creation",
			SystemPrompt: "You are a writing specialist. Your role is to create well-structured, clear, and engaging written content based on provided information.",
		},
		{
			Name:         "analysis-agent",
			Description:  "Specialized in analyzing data and information",
			SystemPrompt: "You are an analysis specialist. Your role is to analyze information, identify patterns, and provide insights.",
		},
	}
}

// DefaultSystemPrompt is the orchestrator prompt used when none is configured.
const DefaultSystemPrompt = `You are a Deep Agent capable of planning and executing complex tasks.

You have access to:
1. A virtual filesystem (read_file, write_file, edit_file, ls)
2. A TODO list for task planning (read_todos, add_todo, update_todo)
3. Sub-agent delegation (delegate_task) for specialized tasks

Best Practices:
- Start by breaking down complex tasks into a plan using add_todo
- Use the filesystem to store your work and intermediate results
- Delegate specialized tasks to sub-agents when appropriate
- Mark tasks as completed using update_todo with status 'completed'
- Keep your responses concise and focused on task execution`
