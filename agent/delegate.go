package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"deepagent/vfs"
)

// subAgentPrompt is used for delegated tasks that name no profile.
const subAgentPrompt = "You are a focused sub-agent. Complete the task you are given using the available tools, then reply with the result."

// DelegationRequest asks for a nested agent loop. Depth is the caller's
// depth and is filled in by Scope.Delegate.
type DelegationRequest struct {
	Task         string   `json:"task"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	Depth        int      `json:"depth"`
}

// delegate runs req synchronously on a child state. The child sees a fork
// of the caller's files; whatever it wrote is merged back even when it
// fails. Its todos and messages are dropped.
func (r *run) delegate(ctx context.Context, req DelegationRequest) (string, error) {
	childDepth := req.Depth + 1
	if childDepth > r.agent.maxDepth {
		return "", fmt.Errorf("%w: depth %d exceeds the limit of %d", ErrDelegationDepthExceeded, childDepth, r.agent.maxDepth)
	}
	if strings.TrimSpace(req.Task) == "" {
		return "", fmt.Errorf("%w: task must not be empty", ErrInvalidArguments)
	}

	prompt := subAgentPrompt
	allowed := req.AllowedTools
	if req.Agent != "" {
		p, ok := r.agent.profiles.Get(req.Agent)
		if !ok {
			var names []string
			for _, p := range r.agent.profiles.List() {
				names = append(names, p.Name)
			}
			return "", fmt.Errorf("%w: unknown sub-agent %q (available: %s)", ErrInvalidArguments, req.Agent, strings.Join(names, ", "))
		}
		prompt = p.SystemPrompt
		if len(allowed) == 0 {
			allowed = p.Tools
		}
	}
	tools, err := r.tools.Restrict(allowed)
	if err != nil {
		return "", err
	}

	if r.state.Files == nil {
		r.state.Files = vfs.New(nil)
	}
	r.children++
	now := time.Now().UTC()
	child := &ThreadState{
		ThreadID:  fmt.Sprintf("%s/delegate-%d", r.state.ThreadID, r.children),
		Messages:  Messages{},
		Todos:     r.state.Todos.Clone(),
		Files:     r.state.Files.Fork(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, span := tracer.Start(ctx, "agent.delegate", trace.WithAttributes(
		attribute.String("thread.id", child.ThreadID),
		attribute.String("agent", req.Agent),
		attribute.Int("depth", childDepth),
	))
	defer span.End()

	emit(ctx, r.events, StreamEvent{
		Type:     EventDelegateStart,
		ThreadID: r.state.ThreadID,
		Name:     req.Agent,
		Content:  req.Task,
		Data:     map[string]any{"depth": childDepth, "tools": tools.Names()},
	})
	log := r.log.With(zap.String("child_thread_id", child.ThreadID), zap.Int("depth", childDepth))
	log.Debug("delegating task", zap.String("agent", req.Agent), zap.Strings("tools", tools.Names()))

	sub := &run{
		agent:        r.agent,
		state:        child,
		tools:        tools,
		systemPrompt: prompt,
		depth:        childDepth,
		log:          log,
		trace:        r.trace,
	}
	answer, runErr := sub.loop(ctx, req.Task)

	changed := child.Files.Changed()
	r.state.Files.Merge(child.Files)

	end := StreamEvent{
		Type:     EventDelegateEnd,
		ThreadID: r.state.ThreadID,
		Name:     req.Agent,
		Content:  answer,
		Data:     map[string]any{"depth": childDepth, "files_changed": changed, "model_turns": sub.turns},
	}
	if runErr != nil {
		end.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	emit(ctx, r.events, end)

	if runErr != nil {
		log.Debug("sub-agent failed", zap.Error(runErr))
		return "", fmt.Errorf("sub-agent %s failed: %w", child.ThreadID, runErr)
	}
	return answer, nil
}
