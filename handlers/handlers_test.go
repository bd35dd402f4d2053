package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/agent"
	"deepagent/checkpoint"
	"deepagent/events"
	"deepagent/llm"
	"deepagent/llm/llmtest"
	"deepagent/plan"
	"deepagent/tools"
	"deepagent/tracing"
)

type harness struct {
	mux  *http.ServeMux
	deps *Deps
}

func newHarness(t *testing.T, model llm.Client) *harness {
	t.Helper()
	mem := checkpoint.NewMemory(0)
	t.Cleanup(func() { mem.Close() })
	reg, err := tools.NewRegistry()
	require.NoError(t, err)

	deps := &Deps{
		Agent:  agent.New(model, agent.NewThreadStore(mem), reg, agent.WithModelName("test-model")),
		Traces: tracing.NewStore(10),
		Bus:    events.NewBus(nil),
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return &harness{mux: mux, deps: deps}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func writeThenAnswer() *llmtest.Script {
	return llmtest.NewScript(
		llmtest.Calls(llmtest.Call("c1", "write_file", map[string]any{"path": "notes.txt", "content": "hello"})),
		llmtest.Text("Saved."),
	)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, llmtest.NewScript())
	rec := h.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestInvoke(t *testing.T) {
	h := newHarness(t, writeThenAnswer())

	rec := h.do(http.MethodPost, "/api/v1/agent/invoke", `{"query":"save a note"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res agent.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Saved.", res.Response)
	assert.Len(t, res.ThreadID, 36, "generated thread id is a uuid")
	assert.Equal(t, map[string]string{"notes.txt": "hello"}, res.Files)
	assert.Empty(t, res.Todos)
}

func TestInvoke_BadRequests(t *testing.T) {
	h := newHarness(t, llmtest.NewScript())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"empty query", http.MethodPost, "/api/v1/agent/invoke", `{"query":"  "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/v1/agent/run", `{"query":`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/v1/agent/invoke", "", http.StatusMethodNotAllowed},
		{"stream empty query", http.MethodPost, "/api/v1/agent/stream", `{}`, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/agent/t1/nope", "", http.StatusNotFound},
		{"base", http.MethodGet, "/api/v1/agent/", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestInvoke_ModelUnavailable(t *testing.T) {
	h := newHarness(t, llm.Unavailable{Err: llm.ErrNoProvider})

	rec := h.do(http.MethodPost, "/api/v1/agent/invoke", `{"query":"hi","thread_id":"t1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "model unavailable")

	// The user message is still persisted.
	rec = h.do(http.MethodGet, "/api/v1/agent/t1/state", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInvoke_MaxIterations(t *testing.T) {
	h := newHarness(t, llmtest.NewScript())
	h.deps.Agent = agent.New(llmtest.Always("read_todos", nil), h.deps.Agent.Store(), h.deps.Agent.Tools(),
		agent.WithMaxIterations(2))

	rec := h.do(http.MethodPost, "/api/v1/agent/invoke", `{"query":"loop","thread_id":"t1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "max iterations exceeded")
}

func TestThreadLifecycle(t *testing.T) {
	h := newHarness(t, llmtest.NewScript(
		llmtest.Calls(llmtest.Call("c1", "add_todo", map[string]any{"task": "draft"})),
		llmtest.Text("Planned."),
		llmtest.Text("Still planned."),
	))

	rec := h.do(http.MethodPost, "/api/v1/agent/t1/chat", `{"query":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "chat needs an existing thread")

	rec = h.do(http.MethodGet, "/api/v1/agent/t1/state", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/agent/invoke", `{"query":"plan it","thread_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/v1/agent/t1/chat", `{"query":"and now?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Still planned.", decode(t, rec)["response"])

	rec = h.do(http.MethodGet, "/api/v1/agent/t1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		ThreadID string            `json:"thread_id"`
		Messages []agent.Message   `json:"messages"`
		Files    map[string]string `json:"files"`
		Todos    []plan.Todo       `json:"todos"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "t1", state.ThreadID)
	assert.Len(t, state.Messages, 6)
	assert.Equal(t, []plan.Todo{{Task: "draft", Status: plan.Pending}}, state.Todos)

	rec = h.do(http.MethodDelete, "/api/v1/agent/t1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodDelete, "/api/v1/agent/t1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(http.MethodGet, "/api/v1/agent/t1/state", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// sseFrames parses the data: lines of an SSE body.
func sseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var f map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &f))
		frames = append(frames, f)
	}
	return frames
}

func frameTypes(frames []map[string]any) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func TestStream(t *testing.T) {
	h := newHarness(t, writeThenAnswer())

	rec := h.do(http.MethodPost, "/api/v1/agent/stream", `{"query":"save a note","thread_id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := sseFrames(t, rec.Body.String())
	types := frameTypes(frames)
	require.NotEmpty(t, types)
	assert.Contains(t, types, agent.EventToolStart)
	assert.Contains(t, types, agent.EventToolEnd)
	assert.Contains(t, types, agent.EventStateUpdate)
	assert.Contains(t, types, agent.EventContent)

	last := frames[len(frames)-1]
	assert.Equal(t, agent.EventComplete, last["type"])
	assert.Equal(t, "s1", last["thread_id"])
	assert.Equal(t, "Saved.", last["response"])
	assert.Equal(t, map[string]any{"notes.txt": "hello"}, last["files"])
	assert.Equal(t, []any{}, last["todos"])
}

func TestStream_Error(t *testing.T) {
	h := newHarness(t, llm.Unavailable{Err: llm.ErrNoProvider})

	rec := h.do(http.MethodPost, "/api/v1/agent/stream", `{"query":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := sseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, agent.EventError, last["type"])
	assert.Contains(t, last["error"], "model unavailable")
}

func TestWebsocket(t *testing.T) {
	h := newHarness(t, writeThenAnswer())
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/agent/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]string{"query": ""}))
	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, agent.EventError, first["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"query": "save a note", "thread_id": "w1"}))
	var frames []map[string]any
	for {
		var f map[string]any
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f["type"] == agent.EventComplete || f["type"] == agent.EventError {
			break
		}
	}
	last := frames[len(frames)-1]
	assert.Equal(t, agent.EventComplete, last["type"])
	assert.Equal(t, "w1", last["thread_id"])
	assert.Equal(t, "Saved.", last["response"])
}

func TestTracesAndEvents(t *testing.T) {
	h := newHarness(t, writeThenAnswer())
	sub := h.deps.Bus.Subscribe()
	defer h.deps.Bus.Unsubscribe(sub)

	rec := h.do(http.MethodPost, "/api/v1/agent/invoke", `{"query":"save a note","thread_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	started, completed := <-sub, <-sub
	assert.Equal(t, events.InvocationStarted, started.Type)
	assert.Equal(t, events.InvocationCompleted, completed.Type)
	assert.Equal(t, "t1", completed.ThreadID)
	assert.Equal(t, "invoke", completed.Method)
	assert.Equal(t, started.TraceID, completed.TraceID)

	rec = h.do(http.MethodGet, "/api/v1/agent/traces", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Traces []tracing.Summary `json:"traces"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Traces, 1)
	assert.Equal(t, completed.TraceID, list.Traces[0].TraceID)

	rec = h.do(http.MethodGet, "/api/v1/agent/traces/"+completed.TraceID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tr tracing.Trace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, "Saved.", tr.Response)
	assert.Equal(t, "test-model", tr.Model)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/agent/traces/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/agent/traces?limit=x", "").Code)
}

func TestEventsRelay(t *testing.T) {
	h := newHarness(t, llmtest.NewScript())
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/agent/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The subscription is registered before the handler flushes headers.
	require.NoError(t, h.deps.Bus.Publish(ctx, events.Event{Type: events.ThreadDeleted, ThreadID: "t9"}))

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "event: "+events.ThreadDeleted, sc.Text())
	require.True(t, sc.Scan())
	assert.Contains(t, sc.Text(), `"thread_id":"t9"`)
}

func TestCatalog(t *testing.T) {
	h := newHarness(t, llmtest.NewScript())

	rec := h.do(http.MethodGet, "/api/v1/agent/subagents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var subs struct {
		Subagents []agent.Profile `json:"subagents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	var names []string
	for _, p := range subs.Subagents {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"analysis-agent", "research-agent", "writing-agent"}, names)

	rec = h.do(http.MethodGet, "/api/v1/agent/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delegate_task"`)
}

func TestFrameOf(t *testing.T) {
	f := frameOf(agent.StreamEvent{Type: agent.EventStateUpdate, ThreadID: "t"})
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"state_update","thread_id":"t","files":{},"todos":[]}`, string(b))

	b, err = json.Marshal(frameOf(agent.StreamEvent{Type: agent.EventError, Error: "boom"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"boom"}`, string(b))
}
