package deepagent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/agent"
	"deepagent/events"
)

const agentsYAML = `
agents:
  - name: critic-agent
    description: Reviews drafts
    system_prompt: You are a careful critic.
    tools: [read_file, ls]
  - name: research-agent
    description: Researches topics
    system_prompt: You research.
`

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(agentsYAML), 0o644))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, agent.Profile{
		Name:         "critic-agent",
		Description:  "Reviews drafts",
		SystemPrompt: "You are a careful critic.",
		Tools:        []string{"read_file", "ls"},
	}, profiles[0])
}

func TestLoadProfiles_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "agents: [", "failed to parse"},
		{"no name", "agents:\n  - system_prompt: x\n", "name is required"},
		{"duplicate", "agents:\n  - {name: a, system_prompt: x}\n  - {name: a, system_prompt: y}\n", "duplicate"},
		{"no prompt", "agents:\n  - name: a\n", "system_prompt is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "agents.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))
			_, err := LoadProfiles(path)
			assert.ErrorContains(t, err, tc.want)
		})
	}

	_, err := LoadProfiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read")
}

func TestProfileWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(agentsYAML), 0o644))

	set := agent.NewProfileSet()
	bus := events.NewBus(nil)
	sub := bus.Subscribe()
	pw := NewProfileWatcher(path, set, bus, nil)
	pw.debounce = 10 * time.Millisecond

	require.NoError(t, pw.Reload(context.Background()))
	_, ok := set.Get("critic-agent")
	assert.True(t, ok)
	ev := <-sub
	assert.Equal(t, events.ProfilesReloaded, ev.Type)
	assert.Equal(t, []string{"critic-agent", "research-agent"}, ev.Detail)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pw.Run(ctx) }()

	// A broken edit keeps the current table.
	require.NoError(t, os.WriteFile(path, []byte("agents: ["), 0o644))

	updated := "agents:\n  - {name: editor-agent, description: Edits, system_prompt: You edit.}\n"
	require.Eventually(t, func() bool {
		if _, ok := set.Get("editor-agent"); ok {
			return true
		}
		os.WriteFile(path, []byte(updated), 0o644)
		return false
	}, 5*time.Second, 50*time.Millisecond)

	_, ok = set.Get("critic-agent")
	assert.False(t, ok, "reload replaces the whole table")

	cancel()
	require.NoError(t, <-done)
}
