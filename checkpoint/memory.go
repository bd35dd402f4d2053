// Package checkpoint provides agent.Checkpointer backends: in-memory with
// TTL eviction, one JSON file per thread, and SQLite.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deepagent/agent"
)

const evictInterval = 5 * time.Minute

// memoryEntry wraps a ThreadState with a last-accessed timestamp for TTL eviction.
type memoryEntry struct {
	state      *agent.ThreadState
	lastAccess time.Time
}

// Memory is an in-memory checkpointer. States are deep-copied on the way in
// and out. A positive TTL evicts threads idle for longer than it.
type Memory struct {
	mu      sync.RWMutex
	threads map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a store. With ttl > 0 an eviction loop runs until Close.
func NewMemory(ttl time.Duration) *Memory {
	m := &Memory{
		threads: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go m.evictLoop(evictInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, threadID string) (*agent.ThreadState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrThreadNotFound, threadID)
	}
	e.lastAccess = m.now()
	return e.state.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, state *agent.ThreadState) error {
	if state.ThreadID == "" {
		return fmt.Errorf("put: empty thread id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[state.ThreadID] = &memoryEntry{state: state.Clone(), lastAccess: m.now()}
	return nil
}

func (m *Memory) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return fmt.Errorf("%w: %s", agent.ErrThreadNotFound, threadID)
	}
	delete(m.threads, threadID)
	return nil
}

// Len returns the number of stored threads.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// Close stops the eviction loop.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Memory) evictLoop(every time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evict()
		case <-m.stop:
			return
		}
	}
}

// evict removes threads that haven't been accessed within the TTL window.
func (m *Memory) evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.ttl)
	n := 0
	for id, e := range m.threads {
		if e.lastAccess.Before(cutoff) {
			delete(m.threads, id)
			n++
		}
	}
	return n
}
