// Package logging builds the zap logger and a hook that logs model and tool
// calls.
package logging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deepagent/agent"
	"deepagent/llm"
)

// Config selects level and encoding.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // json | console
}

// New builds a logger: production JSON by default, development console
// output when Format is "console".
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log format %q: want json or console", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Hook logs every model and tool call at debug level, and failures at warn.
type Hook struct {
	agent.BaseHook
	log *zap.Logger
}

func NewHook(log *zap.Logger) *Hook {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hook{log: log.Named("agent")}
}

func (h *Hook) Name() string { return "logging" }

func (h *Hook) BeforeAgent(ctx context.Context, state *agent.ThreadState) error {
	h.log.Debug("agent start",
		zap.String("thread_id", state.ThreadID),
		zap.Int("messages", len(state.Messages)),
		zap.Int("todos", len(state.Todos)),
		zap.Int("files", state.Files.Len()))
	return nil
}

func (h *Hook) WrapModelCall(ctx context.Context, req llm.Request, next agent.ModelCallFunc) (*llm.Response, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	fields := []zap.Field{
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		h.log.Warn("model call failed", append(fields, zap.Error(err))...)
		return resp, err
	}
	if resp != nil {
		fields = append(fields, zap.Int("content_length", len(resp.Content)), zap.Int("tool_calls", len(resp.ToolCalls)))
	}
	h.log.Debug("model call", fields...)
	return resp, nil
}

func (h *Hook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	start := time.Now()
	res, err := next(ctx, call)
	fields := []zap.Field{
		zap.String("tool", call.Name),
		zap.String("tool_call_id", call.ID),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err != nil:
		h.log.Warn("tool call failed", append(fields, zap.Error(err))...)
	case res != nil && res.IsError:
		h.log.Debug("tool call returned error", append(fields, zap.String("output", res.Content))...)
	default:
		h.log.Debug("tool call", fields...)
	}
	return res, err
}
