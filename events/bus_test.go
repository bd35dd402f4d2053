package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkFunc func(ctx context.Context, ev Event) error

func (f sinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

func TestBus(t *testing.T) {
	var mu sync.Mutex
	var forwarded []string
	sink := sinkFunc(func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		forwarded = append(forwarded, ev.Type)
		return nil
	})
	failing := sinkFunc(func(ctx context.Context, ev Event) error { return errors.New("offline") })

	bus := NewBus(nil, failing, sink)
	ch := bus.Subscribe()

	require.NoError(t, bus.Publish(context.Background(), Event{Type: InvocationStarted, ThreadID: "t"}))

	ev := <-ch
	assert.Equal(t, InvocationStarted, ev.Type)
	assert.Equal(t, "t", ev.ThreadID)
	assert.False(t, ev.Time.IsZero())
	assert.Equal(t, []string{InvocationStarted}, forwarded)

	bus.Unsubscribe(ch)
	require.NoError(t, bus.Publish(context.Background(), Event{Type: InvocationCompleted}))
	assert.Len(t, ch, 0)
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe()
	for i := 0; i < 100; i++ {
		bus.Publish(context.Background(), Event{Type: InvocationStarted})
	}
	assert.Equal(t, cap(ch), len(ch))
}

func TestNATSPublisher_Subject(t *testing.T) {
	p := &NATSPublisher{subject: DefaultSubject}
	assert.Equal(t, "deepagent.invocation.failed", p.Subject(InvocationFailed))
}
