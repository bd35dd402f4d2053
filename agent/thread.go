package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"deepagent/plan"
	"deepagent/vfs"
)

// Checkpointer persists thread states. Get returns ErrThreadNotFound for an
// unseen id. Put overwrites atomically. Implementations must not share
// mutable data with their callers.
type Checkpointer interface {
	Get(ctx context.Context, threadID string) (*ThreadState, error)
	Put(ctx context.Context, state *ThreadState) error
	Delete(ctx context.Context, threadID string) error
}

// threadLock is a one-slot semaphore shared by every caller waiting on the
// same thread. refs counts holders and waiters so idle entries can be dropped.
type threadLock struct {
	ch   chan struct{}
	refs int
}

// ThreadStore serializes invocations per thread on top of a Checkpointer.
type ThreadStore struct {
	cp Checkpointer

	mu    sync.Mutex
	locks map[string]*threadLock
}

// NewThreadStore wraps cp.
func NewThreadStore(cp Checkpointer) *ThreadStore {
	return &ThreadStore{cp: cp, locks: make(map[string]*threadLock)}
}

// Load returns the state for threadID, or a fresh empty state when the id
// has never been saved.
func (ts *ThreadStore) Load(ctx context.Context, threadID string) (*ThreadState, error) {
	st, err := ts.cp.Get(ctx, threadID)
	if errors.Is(err, ErrThreadNotFound) {
		return NewThreadState(threadID), nil
	}
	if err != nil {
		return nil, err
	}
	return normalize(st, threadID), nil
}

// Get returns the saved state for threadID or ErrThreadNotFound.
func (ts *ThreadStore) Get(ctx context.Context, threadID string) (*ThreadState, error) {
	st, err := ts.cp.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return normalize(st, threadID), nil
}

// Exists reports whether threadID has been saved.
func (ts *ThreadStore) Exists(ctx context.Context, threadID string) (bool, error) {
	_, err := ts.cp.Get(ctx, threadID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrThreadNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Save stamps and persists state.
func (ts *ThreadStore) Save(ctx context.Context, state *ThreadState) error {
	state.UpdatedAt = time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}
	return ts.cp.Put(ctx, state)
}

// Delete removes a thread. It waits for any running invocation on it.
func (ts *ThreadStore) Delete(ctx context.Context, threadID string) error {
	l, err := ts.lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer ts.unlock(threadID, l)
	return ts.cp.Delete(ctx, threadID)
}

// Acquire blocks until no other invocation holds threadID, then loads its
// state into a Lease. The caller must Release the lease.
func (ts *ThreadStore) Acquire(ctx context.Context, threadID string) (*Lease, error) {
	l, err := ts.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state, err := ts.Load(ctx, threadID)
	if err != nil {
		ts.unlock(threadID, l)
		return nil, err
	}
	return &Lease{State: state, store: ts, id: threadID, lock: l}, nil
}

func (ts *ThreadStore) lock(ctx context.Context, threadID string) (*threadLock, error) {
	ts.mu.Lock()
	l, ok := ts.locks[threadID]
	if !ok {
		l = &threadLock{ch: make(chan struct{}, 1)}
		ts.locks[threadID] = l
	}
	l.refs++
	ts.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return l, nil
	case <-ctx.Done():
		ts.unref(threadID, l)
		return nil, ctx.Err()
	}
}

func (ts *ThreadStore) unlock(threadID string, l *threadLock) {
	<-l.ch
	ts.unref(threadID, l)
}

func (ts *ThreadStore) unref(threadID string, l *threadLock) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(ts.locks, threadID)
	}
}

// active returns the number of threads with a holder or waiter.
func (ts *ThreadStore) active() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.locks)
}

// Lease is exclusive access to one thread for the duration of an invocation.
type Lease struct {
	State *ThreadState

	store *ThreadStore
	id    string
	lock  *threadLock
	once  sync.Once
}

// Commit saves the working state.
func (l *Lease) Commit(ctx context.Context) error {
	return l.store.Save(ctx, l.State)
}

// Release unlocks the thread. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() { l.store.unlock(l.id, l.lock) })
}

func normalize(st *ThreadState, threadID string) *ThreadState {
	if st.ThreadID == "" {
		st.ThreadID = threadID
	}
	if st.Messages == nil {
		st.Messages = Messages{}
	}
	if st.Todos == nil {
		st.Todos = plan.List{}
	}
	if st.Files == nil {
		st.Files = vfs.New(nil)
	}
	return st
}
