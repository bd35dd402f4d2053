// Package events broadcasts invocation lifecycle events to in-process
// subscribers and, when configured, to NATS.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle event types.
const (
	InvocationStarted   = "invocation.started"
	InvocationCompleted = "invocation.completed"
	InvocationFailed    = "invocation.failed"
	ThreadDeleted       = "thread.deleted"
	ProfilesReloaded    = "profiles.reloaded"
)

// Event is one lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	ThreadID   string    `json:"thread_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	Time       time.Time `json:"time"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	Detail     any       `json:"detail,omitempty"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is a simple pub/sub for broadcasting lifecycle events. Slow
// subscribers drop events rather than block publishers.
type Bus struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
	sinks   []Publisher
	log     *zap.Logger
}

// NewBus creates a bus that also forwards every event to sinks.
func NewBus(log *zap.Logger, sinks ...Publisher) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		clients: make(map[chan Event]struct{}),
		sinks:   sinks,
		log:     log,
	}
}

// Subscribe returns a channel that receives broadcast events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
}

// Publish broadcasts ev and forwards it to the sinks. Sink failures are
// logged, never returned.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.Lock()
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()

	for _, s := range b.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			b.log.Warn("publish event", zap.String("type", ev.Type), zap.Error(err))
		}
	}
	return nil
}
