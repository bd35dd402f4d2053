package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mapCheckpointer is a minimal Checkpointer keeping JSON-free deep copies.
type mapCheckpointer struct {
	mu sync.Mutex
	m  map[string]*ThreadState
}

func newMapCheckpointer() *mapCheckpointer {
	return &mapCheckpointer{m: map[string]*ThreadState{}}
}

func (c *mapCheckpointer) Get(ctx context.Context, id string) (*ThreadState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	return st.Clone(), nil
}

func (c *mapCheckpointer) Put(ctx context.Context, st *ThreadState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[st.ThreadID] = st.Clone()
	return nil
}

func (c *mapCheckpointer) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[id]; !ok {
		return ErrThreadNotFound
	}
	delete(c.m, id)
	return nil
}

func TestThreadStore_Load(t *testing.T) {
	ctx := context.Background()
	ts := NewThreadStore(newMapCheckpointer())

	t.Run("unseen id yields empty state", func(t *testing.T) {
		st, err := ts.Load(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, "fresh", st.ThreadID)
		assert.Empty(t, st.Messages)
		assert.Empty(t, st.Todos)
		assert.Equal(t, 0, st.Files.Len())

		ok, err := ts.Exists(ctx, "fresh")
		require.NoError(t, err)
		assert.False(t, ok, "Load must not persist")
	})

	t.Run("saved state is returned", func(t *testing.T) {
		st := NewThreadState("saved")
		st.Messages = append(st.Messages, Human("hi"))
		st.Files.Write("a.txt", "x")
		require.NoError(t, ts.Save(ctx, st))

		got, err := ts.Get(ctx, "saved")
		require.NoError(t, err)
		assert.Equal(t, Messages{Human("hi")}, got.Messages)
		assert.Equal(t, map[string]string{"a.txt": "x"}, got.Files.Snapshot())
	})

	t.Run("get on unseen id", func(t *testing.T) {
		_, err := ts.Get(ctx, "nope")
		require.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestThreadStore_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire waits for release", func(t *testing.T) {
		ts := NewThreadStore(newMapCheckpointer())
		first, err := ts.Acquire(ctx, "t")
		require.NoError(t, err)

		acquired := make(chan *Lease)
		go func() {
			l, err := ts.Acquire(ctx, "t")
			if err != nil {
				close(acquired)
				return
			}
			acquired <- l
		}()

		select {
		case <-acquired:
			t.Fatal("second lease granted while the first is held")
		case <-time.After(50 * time.Millisecond):
		}

		first.State.Messages = append(first.State.Messages, Human("one"))
		require.NoError(t, first.Commit(ctx))
		first.Release()

		second := <-acquired
		require.NotNil(t, second)
		assert.Equal(t, Messages{Human("one")}, second.State.Messages, "second lease sees committed state")
		second.Release()
		assert.Equal(t, 0, ts.active())
	})

	t.Run("different threads do not block", func(t *testing.T) {
		ts := NewThreadStore(newMapCheckpointer())
		a, err := ts.Acquire(ctx, "a")
		require.NoError(t, err)
		defer a.Release()

		b, err := ts.Acquire(ctx, "b")
		require.NoError(t, err)
		b.Release()
	})

	t.Run("waiting honours cancellation", func(t *testing.T) {
		ts := NewThreadStore(newMapCheckpointer())
		held, err := ts.Acquire(ctx, "t")
		require.NoError(t, err)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = ts.Acquire(cctx, "t")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		held.Release()
		assert.Equal(t, 0, ts.active(), "lock entries are dropped once idle")
	})

	t.Run("release is idempotent", func(t *testing.T) {
		ts := NewThreadStore(newMapCheckpointer())
		l, err := ts.Acquire(ctx, "t")
		require.NoError(t, err)
		l.Release()
		l.Release()

		l2, err := ts.Acquire(ctx, "t")
		require.NoError(t, err)
		l2.Release()
	})
}

func TestThreadStore_Delete(t *testing.T) {
	ctx := context.Background()
	ts := NewThreadStore(newMapCheckpointer())
	require.NoError(t, ts.Save(ctx, NewThreadState("t")))

	require.NoError(t, ts.Delete(ctx, "t"))
	ok, err := ts.Exists(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok)
	require.ErrorIs(t, ts.Delete(ctx, "t"), ErrThreadNotFound)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "model_turn", phaseModelTurn.String())
	assert.Equal(t, "phase(9)", phase(9).String())
}
