package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"deepagent/llm"
)

const (
	// DefaultMaxIterations bounds the number of model turns per invocation.
	DefaultMaxIterations = 25
	// DefaultMaxDelegationDepth bounds sub-agent nesting.
	DefaultMaxDelegationDepth = 2

	defaultMaxTokens = 4096
)

var tracer = otel.Tracer("deepagent/agent")

// Agent is the orchestrator: it drives the model/tool loop for a thread.
type Agent struct {
	model    llm.Client
	store    *ThreadStore
	tools    *Registry
	hooks    []Hook
	profiles *ProfileSet
	log      *zap.Logger

	maxIterations int
	maxDepth      int
	systemPrompt  string
	modelName     string
	maxTokens     int
	temperature   *float64
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxIterations sets the model-turn bound. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithMaxDelegationDepth sets how deep sub-agents may nest. Zero disables
// delegation.
func WithMaxDelegationDepth(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxDepth = n
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

func WithModelName(name string) Option {
	return func(a *Agent) { a.modelName = name }
}

func WithMaxTokens(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = &t }
}

// WithHooks appends middleware. The first hook is the outermost layer.
func WithHooks(hooks ...Hook) Option {
	return func(a *Agent) { a.hooks = append(a.hooks, hooks...) }
}

func WithProfiles(ps *ProfileSet) Option {
	return func(a *Agent) {
		if ps != nil {
			a.profiles = ps
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an orchestrator over model, store and the tool table reg.
func New(model llm.Client, store *ThreadStore, reg *Registry, opts ...Option) *Agent {
	a := &Agent{
		model:         model,
		store:         store,
		tools:         reg,
		profiles:      NewProfileSet(DefaultProfiles()...),
		log:           zap.NewNop(),
		maxIterations: DefaultMaxIterations,
		maxDepth:      DefaultMaxDelegationDepth,
		systemPrompt:  DefaultSystemPrompt,
		maxTokens:     defaultMaxTokens,
	}
	if a.tools == nil {
		a.tools = &Registry{tools: map[string]Tool{}}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Store() *ThreadStore   { return a.store }
func (a *Agent) Tools() *Registry      { return a.tools }
func (a *Agent) Profiles() *ProfileSet { return a.profiles }
func (a *Agent) ModelName() string     { return a.modelName }

// Invoke runs one user query against threadID and returns the final answer.
// The thread state is saved whether the run ends or fails.
func (a *Agent) Invoke(ctx context.Context, threadID, query string) (*Result, error) {
	return a.invoke(ctx, threadID, query, nil)
}

// Stream runs like Invoke and reports progress on events, ending with exactly
// one "complete" or "error" event. The channel is closed on return.
func (a *Agent) Stream(ctx context.Context, threadID, query string, events chan<- StreamEvent) {
	defer close(events)

	res, err := a.invoke(ctx, threadID, query, events)
	if err != nil {
		emitFinal(ctx, events, StreamEvent{Type: EventError, ThreadID: threadID, Error: err.Error()})
		return
	}
	emitFinal(ctx, events, StreamEvent{
		Type:     EventComplete,
		ThreadID: res.ThreadID,
		Response: res.Response,
		Files:    res.Files,
		Todos:    res.Todos,
	})
}

// emitFinal delivers the terminal event even after cancellation when the
// consumer has room for it.
func emitFinal(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) {
	if ctx.Err() == nil {
		emit(ctx, ch, ev)
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

func (a *Agent) invoke(ctx context.Context, threadID, query string, events chan<- StreamEvent) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	ctx, span := tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("thread.id", threadID),
		attribute.String("model", a.modelName),
	))
	defer span.End()

	log := a.log.With(zap.String("thread_id", threadID))
	start := time.Now()

	lease, err := a.store.Acquire(ctx, threadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquire thread: %w", err)
	}
	defer lease.Release()

	r := &run{
		agent:        a,
		state:        lease.State,
		tools:        a.tools,
		systemPrompt: a.systemPrompt,
		events:       events,
		log:          log,
		trace:        TraceFromContext(ctx),
	}
	answer, runErr := r.loop(ctx, query)

	if err := lease.Commit(context.WithoutCancel(ctx)); err != nil {
		log.Error("save thread state", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("save thread: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("model.turns", r.turns))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Warn("invocation failed",
			zap.Error(runErr),
			zap.Int("model_turns", r.turns),
			zap.Duration("elapsed", time.Since(start)))
		return nil, runErr
	}
	log.Info("invocation complete",
		zap.Int("model_turns", r.turns),
		zap.Int("messages", len(lease.State.Messages)),
		zap.Duration("elapsed", time.Since(start)))
	return resultOf(lease.State, answer), nil
}

// phase is a state of the invocation machine.
type phase int

const (
	phaseStart phase = iota
	phaseModelTurn
	phaseToolTurn
	phaseEnd
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseStart:
		return "start"
	case phaseModelTurn:
		return "model_turn"
	case phaseToolTurn:
		return "tool_turn"
	case phaseEnd:
		return "end"
	case phaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// run is one pass of the loop over a working ThreadState. Sub-agents get
// their own run with a restricted registry and no event channel.
type run struct {
	agent        *Agent
	state        *ThreadState
	tools        *Registry
	systemPrompt string
	depth        int
	events       chan<- StreamEvent
	log          *zap.Logger
	trace        TraceRecorder

	phase    phase
	turns    int
	pending  []ToolCall
	answer   string
	err      error
	children int
}

func (r *run) loop(ctx context.Context, query string) (string, error) {
	r.phase = phaseStart
	for {
		switch r.phase {
		case phaseStart:
			r.start(ctx, query)
		case phaseModelTurn:
			r.modelTurn(ctx)
		case phaseToolTurn:
			r.toolTurn(ctx)
		case phaseEnd:
			return r.answer, nil
		case phaseFailed:
			return "", r.err
		}
	}
}

func (r *run) fail(err error) {
	r.log.Debug("run failed", zap.Stringer("phase", r.phase), zap.Error(err))
	r.err = err
	r.phase = phaseFailed
}

func (r *run) start(ctx context.Context, query string) {
	r.state.Messages = append(r.state.Messages, Human(query))
	r.trace.RecordEvent("tools.available", map[string]any{
		"depth": r.depth,
		"tools": r.tools.Names(),
	})

	for _, hook := range r.agent.hooks {
		s := r.trace.StartSpan("hook.before_agent/" + hook.Name())
		if err := hook.BeforeAgent(ctx, r.state); err != nil {
			s.Set("error", err.Error()).End()
			r.fail(fmt.Errorf("hook %s BeforeAgent: %w", hook.Name(), err))
			return
		}
		s.End()
	}
	r.phase = phaseModelTurn
}

// prompt is the system prompt for the next turn. Runs that may delegate also
// see the current sub-agent profiles, which can change between turns.
func (r *run) prompt() string {
	if r.tools.Get(DelegateToolName) == nil || r.agent.profiles == nil {
		return r.systemPrompt
	}
	return r.systemPrompt + "\n\nAvailable sub-agents:\n" + r.agent.profiles.Describe()
}

func (r *run) modelTurn(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		r.fail(err)
		return
	}
	if r.turns >= r.agent.maxIterations {
		r.fail(fmt.Errorf("%w: no final answer after %d model turns", ErrMaxIterationsExceeded, r.turns))
		return
	}
	r.turns++

	req := llm.Request{
		Model:        r.agent.modelName,
		Messages:     toLLM(r.state.Messages),
		Tools:        r.tools.Schemas(),
		SystemPrompt: r.prompt(),
		MaxTokens:    r.agent.maxTokens,
		Temperature:  r.agent.temperature,
	}
	for _, hook := range r.agent.hooks {
		var err error
		if req, err = hook.ModifyRequest(ctx, req); err != nil {
			r.fail(fmt.Errorf("hook %s ModifyRequest: %w", hook.Name(), err))
			return
		}
	}

	emit(ctx, r.events, StreamEvent{Type: EventModelStart, ThreadID: r.state.ThreadID, Name: r.agent.modelName})
	s := r.trace.StartSpan("llm.call").
		Set("iteration", r.turns).
		Set("depth", r.depth).
		Set("message_count", len(req.Messages))

	resp, err := chainModel(r.agent.hooks, r.callModel)(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		s.Set("error", err.Error()).End()
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.fail(ctxErr)
			return
		}
		r.fail(fmt.Errorf("%w: %w", ErrModelUnavailable, err))
		return
	}

	calls := make([]ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		if tc.Args == nil {
			tc.Args = map[string]any{}
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	s.Set("content_length", len(resp.Content)).Set("tool_calls", len(calls)).End()

	r.state.Messages = append(r.state.Messages, AI(resp.Content, calls...))
	if len(calls) == 0 {
		r.answer = resp.Content
		r.phase = phaseEnd
		return
	}
	r.pending = calls
	r.phase = phaseToolTurn
}

// callModel is the innermost model call: it streams the completion and
// forwards content deltas as events.
func (r *run) callModel(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return llm.Collect(ctx, r.agent.model, req, func(delta string) {
		emit(ctx, r.events, StreamEvent{
			Type:     EventContent,
			ThreadID: r.state.ThreadID,
			Name:     r.agent.modelName,
			Content:  delta,
		})
	})
}

func (r *run) toolTurn(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		r.fail(err)
		return
	}

	scope := NewScope(r.state, r.depth, r.delegate)
	call := chainTool(r.agent.hooks, func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
		res := r.tools.Dispatch(ctx, scope, tc)
		return &res, nil
	})

	for _, tc := range r.pending {
		emit(ctx, r.events, StreamEvent{
			Type:     EventToolStart,
			ThreadID: r.state.ThreadID,
			Name:     tc.Name,
			RunID:    tc.ID,
			Data:     map[string]any{"input": tc.Args},
		})
		s := r.trace.StartSpan("tool.call/" + tc.Name).Set("tool_call_id", tc.ID)

		base := ToolResult{ToolCallID: tc.ID, Name: tc.Name}
		res, err := call(ctx, tc)
		var result ToolResult
		switch {
		case err != nil:
			result = errorResult(base, err)
		case res == nil:
			result = errorResult(base, errors.New("tool produced no result"))
		default:
			result = *res
			result.ToolCallID, result.Name = tc.ID, tc.Name
		}
		s.Set("is_error", result.IsError).Set("output_length", len(result.Content)).End()

		r.state.Messages = append(r.state.Messages, ToolMsg(result))
		emit(ctx, r.events, StreamEvent{
			Type:     EventToolEnd,
			ThreadID: r.state.ThreadID,
			Name:     tc.Name,
			RunID:    tc.ID,
			Content:  result.Content,
			Data:     map[string]any{"is_error": result.IsError},
		})
	}
	r.pending = nil

	emit(ctx, r.events, StreamEvent{
		Type:     EventStateUpdate,
		ThreadID: r.state.ThreadID,
		Files:    r.state.Files.Snapshot(),
		Todos:    r.state.Todos.Read(),
	})
	r.phase = phaseModelTurn
}
