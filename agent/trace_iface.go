package agent

import "context"

// TraceRecorder lets the loop record spans for one invocation without
// importing the tracing package.
type TraceRecorder interface {
	// StartSpan begins a timed span; call End() on the returned handle.
	StartSpan(name string) SpanHandle
	// RecordEvent records an instantaneous (zero-duration) event.
	RecordEvent(name string, metadata map[string]any)
}

// SpanHandle is a timed span that accumulates metadata.
type SpanHandle interface {
	Set(key string, value any) SpanHandle
	End()
}

type traceRecorderKey struct{}

// WithTraceRecorder stores a TraceRecorder in the context.
func WithTraceRecorder(ctx context.Context, tr TraceRecorder) context.Context {
	return context.WithValue(ctx, traceRecorderKey{}, tr)
}

// TraceFromContext extracts the TraceRecorder, or a no-op recorder.
func TraceFromContext(ctx context.Context) TraceRecorder {
	if tr, ok := ctx.Value(traceRecorderKey{}).(TraceRecorder); ok && tr != nil {
		return tr
	}
	return nopRecorder{}
}

type nopRecorder struct{}

func (nopRecorder) StartSpan(string) SpanHandle        { return nopSpan{} }
func (nopRecorder) RecordEvent(string, map[string]any) {}

type nopSpan struct{}

func (s nopSpan) Set(string, any) SpanHandle { return s }
func (nopSpan) End()                         {}
