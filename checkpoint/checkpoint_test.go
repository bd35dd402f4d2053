package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"deepagent/agent"
	"deepagent/plan"
	"deepagent/vfs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleState(id string) *agent.ThreadState {
	st := agent.NewThreadState(id)
	st.Messages = append(st.Messages,
		agent.Human("add a todo"),
		agent.AI("", agent.ToolCall{ID: "c1", Name: "add_todo", Args: map[string]any{"task": "write report"}}),
		agent.ToolMsg(agent.ToolResult{ToolCallID: "c1", Name: "add_todo", Content: "Added TODO: write report"}),
		agent.AI("done"),
	)
	st.Todos = plan.List{{Task: "write report", Status: plan.Pending}}
	st.Files = vfs.New(map[string]string{"notes.txt": "hello"})
	return st
}

func backends(t *testing.T) map[string]agent.Checkpointer {
	t.Helper()
	ctx := context.Background()

	mem := NewMemory(0)
	t.Cleanup(func() { mem.Close() })

	file, err := NewFile(filepath.Join(t.TempDir(), "threads"))
	require.NoError(t, err)

	db, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]agent.Checkpointer{"memory": mem, "file": file, "sqlite": db}
}

func TestCheckpointers(t *testing.T) {
	ctx := context.Background()

	for name, cp := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("unseen thread is not found", func(t *testing.T) {
				_, err := cp.Get(ctx, "missing")
				require.ErrorIs(t, err, agent.ErrThreadNotFound)
			})

			t.Run("put then get round-trips", func(t *testing.T) {
				want := sampleState("t-1")
				require.NoError(t, cp.Put(ctx, want))

				got, err := cp.Get(ctx, "t-1")
				require.NoError(t, err)
				assert.Equal(t, "t-1", got.ThreadID)
				assert.Equal(t, want.Messages, got.Messages)
				assert.Equal(t, want.Todos, got.Todos)
				assert.Equal(t, map[string]string{"notes.txt": "hello"}, got.Files.Snapshot())
			})

			t.Run("put overwrites", func(t *testing.T) {
				st := sampleState("t-2")
				require.NoError(t, cp.Put(ctx, st))
				st.Files.Write("notes.txt", "world")
				st.Todos = append(st.Todos, plan.Todo{Task: "second", Status: plan.Completed})
				require.NoError(t, cp.Put(ctx, st))

				got, err := cp.Get(ctx, "t-2")
				require.NoError(t, err)
				content, err := got.Files.Read("notes.txt")
				require.NoError(t, err)
				assert.Equal(t, "world", content)
				assert.Len(t, got.Todos, 2)
			})

			t.Run("returned state is independent", func(t *testing.T) {
				require.NoError(t, cp.Put(ctx, sampleState("t-3")))
				got, err := cp.Get(ctx, "t-3")
				require.NoError(t, err)
				got.Files.Write("scratch.txt", "x")
				got.Todos[0].Status = plan.Completed

				again, err := cp.Get(ctx, "t-3")
				require.NoError(t, err)
				assert.Equal(t, []string{"notes.txt"}, again.Files.List(""))
				assert.Equal(t, plan.Pending, again.Todos[0].Status)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, cp.Put(ctx, sampleState("t-4")))
				require.NoError(t, cp.Delete(ctx, "t-4"))
				_, err := cp.Get(ctx, "t-4")
				require.ErrorIs(t, err, agent.ErrThreadNotFound)
				require.ErrorIs(t, cp.Delete(ctx, "t-4"), agent.ErrThreadNotFound)
			})

			t.Run("ids with separators", func(t *testing.T) {
				require.NoError(t, cp.Put(ctx, sampleState("../a/b:c")))
				got, err := cp.Get(ctx, "../a/b:c")
				require.NoError(t, err)
				assert.Equal(t, "../a/b:c", got.ThreadID)
			})
		})
	}
}

func TestFile_PutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, f.Put(context.Background(), sampleState("t")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t.json", entries[0].Name())
}

func TestMemory_Evict(t *testing.T) {
	m := NewMemory(time.Hour)
	defer m.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, sampleState("old")))
	now = now.Add(30 * time.Minute)
	require.NoError(t, m.Put(ctx, sampleState("fresh")))
	now = now.Add(45 * time.Minute)

	assert.Equal(t, 1, m.evict())
	_, err := m.Get(ctx, "old")
	require.ErrorIs(t, err, agent.ErrThreadNotFound)
	_, err = m.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("default is memory", func(t *testing.T) {
		cp, closer, err := Open(ctx, Config{})
		require.NoError(t, err)
		defer closer.Close()
		assert.IsType(t, &Memory{}, cp)
	})

	t.Run("sqlite in a directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		cp, closer, err := Open(ctx, Config{Backend: "sqlite", Path: dir})
		require.NoError(t, err)
		defer closer.Close()
		assert.IsType(t, &SQLite{}, cp)
		assert.FileExists(t, filepath.Join(dir, "deepagent.db"))
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, _, err := Open(ctx, Config{Backend: "redis"})
		require.Error(t, err)
	})
}
