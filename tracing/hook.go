package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"deepagent/agent"
	"deepagent/llm"
)

// Hook implements agent.Hook. It wraps model and tool calls in
// OpenTelemetry spans and records their outputs on the invocation trace.
type Hook struct {
	agent.BaseHook
	tracer trace.Tracer
}

// NewHook uses the global tracer provider.
func NewHook() *Hook {
	return &Hook{tracer: otel.Tracer("deepagent/tracing")}
}

func (h *Hook) Name() string { return "tracing" }

func (h *Hook) WrapModelCall(ctx context.Context, req llm.Request, next agent.ModelCallFunc) (*llm.Response, error) {
	ctx, span := h.tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.message_count", len(req.Messages)),
		attribute.Int("llm.tool_count", len(req.Tools)),
	))
	defer span.End()

	resp, err := next(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	if resp == nil {
		return resp, err
	}

	names := make([]string, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		names[i] = tc.Name
	}
	span.SetAttributes(
		attribute.Int("llm.content_length", len(resp.Content)),
		attribute.StringSlice("llm.tool_calls", names),
	)
	agent.TraceFromContext(ctx).RecordEvent("llm.output", map[string]any{
		"content":    truncate(resp.Content, 500),
		"tool_calls": names,
	})
	return resp, nil
}

func (h *Hook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	ctx, span := h.tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	result, err := next(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if result == nil {
		return result, nil
	}
	span.SetAttributes(
		attribute.Bool("tool.is_error", result.IsError),
		attribute.Int("tool.output_length", len(result.Content)),
	)
	if result.IsError {
		span.SetStatus(codes.Error, truncate(result.Content, 200))
	}
	agent.TraceFromContext(ctx).RecordEvent("tool.output", map[string]any{
		"tool_name": call.Name,
		"tool_args": call.Args,
		"output":    truncate(result.Content, 500),
		"is_error":  result.IsError,
	})
	return result, nil
}
