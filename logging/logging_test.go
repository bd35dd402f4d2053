package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"deepagent/agent"
	"deepagent/llm"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		debug   bool
	}{
		{"defaults", Config{}, false, false},
		{"debug console", Config{Level: "DEBUG", Format: "console"}, false, true},
		{"bad level", Config{Level: "loud"}, true, false},
		{"bad format", Config{Format: "xml"}, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, err := New(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.debug, l.Core().Enabled(zapcore.DebugLevel))
		})
	}
}

func TestHook(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := NewHook(zap.New(core))
	ctx := context.Background()

	_, err := h.WrapModelCall(ctx, llm.Request{Model: "m"}, func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "ok"}, nil
	})
	require.NoError(t, err)

	_, err = h.WrapModelCall(ctx, llm.Request{Model: "m"}, func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return nil, errors.New("down")
	})
	require.Error(t, err)

	_, err = h.WrapToolCall(ctx, agent.ToolCall{ID: "1", Name: "ls"}, func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
		return &agent.ToolResult{ToolCallID: "1", Name: "ls", Content: "Error: x", IsError: true}, nil
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "model call", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "tool call returned error", entries[2].Message)
	assert.Equal(t, "ls", entries[2].ContextMap()["tool"])
}
