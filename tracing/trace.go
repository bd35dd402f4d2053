// Package tracing records per-invocation traces for the /traces endpoints
// and exports model and tool spans through OpenTelemetry.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"deepagent/agent"
)

// Span represents a single timed operation within a trace.
type Span struct {
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Trace collects all spans for a single invoke/stream request.
// Implements agent.TraceRecorder.
type Trace struct {
	mu         sync.Mutex
	TraceID    string    `json:"trace_id"`
	ThreadID   string    `json:"thread_id"`
	Model      string    `json:"model"`
	Method     string    `json:"method"` // "invoke", "stream" or "ws"
	Query      string    `json:"query"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time,omitzero"`
	DurationMs float64   `json:"duration_ms"`
	Spans      []Span    `json:"spans"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
}

var _ agent.TraceRecorder = (*Trace)(nil)

// NewTrace starts a trace for one invocation.
func NewTrace(threadID, model, method, query string) *Trace {
	return &Trace{
		TraceID:   uuid.NewString(),
		ThreadID:  threadID,
		Model:     model,
		Method:    method,
		Query:     truncate(query, 1000),
		StartTime: time.Now(),
		Spans:     []Span{},
	}
}

// SpanRecorder is returned by StartSpan. Implements agent.SpanHandle.
type SpanRecorder struct {
	trace *Trace
	span  Span
}

var _ agent.SpanHandle = (*SpanRecorder)(nil)

func (t *Trace) StartSpan(name string) agent.SpanHandle {
	return &SpanRecorder{
		trace: t,
		span:  Span{Name: name, StartTime: time.Now(), Metadata: map[string]any{}},
	}
}

// RecordEvent records a zero-duration span.
func (t *Trace) RecordEvent(name string, metadata map[string]any) {
	now := time.Now()
	t.addSpan(Span{Name: name, StartTime: now, EndTime: now, Metadata: metadata})
}

func (sr *SpanRecorder) Set(key string, value any) agent.SpanHandle {
	sr.span.Metadata[key] = value
	return sr
}

func (sr *SpanRecorder) End() {
	sr.span.EndTime = time.Now()
	sr.span.DurationMs = millis(sr.span.EndTime.Sub(sr.span.StartTime))
	sr.trace.addSpan(sr.span)
}

func (t *Trace) addSpan(s Span) {
	t.mu.Lock()
	t.Spans = append(t.Spans, s)
	t.mu.Unlock()
}

// Finish closes the trace with the final answer or error.
func (t *Trace) Finish(response string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EndTime = time.Now()
	t.DurationMs = millis(t.EndTime.Sub(t.StartTime))
	t.Response = truncate(response, 1000)
	if err != nil {
		t.Error = err.Error()
	}
}

// Snapshot returns a copy safe to encode while the invocation still runs.
func (t *Trace) Snapshot() *Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Trace{
		TraceID:    t.TraceID,
		ThreadID:   t.ThreadID,
		Model:      t.Model,
		Method:     t.Method,
		Query:      t.Query,
		StartTime:  t.StartTime,
		EndTime:    t.EndTime,
		DurationMs: t.DurationMs,
		Spans:      append([]Span(nil), t.Spans...),
		Response:   t.Response,
		Error:      t.Error,
	}
}

// Summary is the list view of a trace.
type Summary struct {
	TraceID    string    `json:"trace_id"`
	ThreadID   string    `json:"thread_id"`
	Method     string    `json:"method"`
	StartTime  time.Time `json:"start_time"`
	DurationMs float64   `json:"duration_ms"`
	SpanCount  int       `json:"span_count"`
	Error      string    `json:"error,omitempty"`
}

func (t *Trace) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{
		TraceID:    t.TraceID,
		ThreadID:   t.ThreadID,
		Method:     t.Method,
		StartTime:  t.StartTime,
		DurationMs: t.DurationMs,
		SpanCount:  len(t.Spans),
		Error:      t.Error,
	}
}

// Store holds recent traces in memory with bounded capacity.
type Store struct {
	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string // FIFO order for eviction
	max    int
}

// NewStore creates a store that retains up to maxSize traces.
func NewStore(maxSize int) *Store {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Store{
		traces: make(map[string]*Trace),
		order:  make([]string, 0, maxSize),
		max:    maxSize,
	}
}

// Put stores a trace, evicting the oldest if at capacity.
func (s *Store) Put(t *Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.traces[t.TraceID]; ok {
		return
	}
	if len(s.order) >= s.max {
		oldest := s.order[0]
		delete(s.traces, oldest)
		s.order = s.order[1:]
	}
	s.traces[t.TraceID] = t
	s.order = append(s.order, t.TraceID)
}

// Get returns a trace by ID, or nil if not found.
func (s *Store) Get(traceID string) *Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traces[traceID]
}

// List returns summaries of the most recent traces, newest first.
func (s *Store) List(limit int) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Summary, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.traces[s.order[n-1-i]].Summary()
	}
	return out
}

// WithTrace stores the trace in context via agent.WithTraceRecorder.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return agent.WithTraceRecorder(ctx, t)
}

// FromContext extracts the concrete *Trace from context, or nil.
func FromContext(ctx context.Context) *Trace {
	t, _ := agent.TraceFromContext(ctx).(*Trace)
	return t
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
