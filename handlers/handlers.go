// Package handlers exposes the agent over HTTP: JSON invocation routes, an
// SSE stream, a websocket stream, thread state and the trace/event views.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"deepagent/agent"
	"deepagent/events"
	"deepagent/plan"
	"deepagent/sse"
	"deepagent/tracing"
)

// DefaultBasePath is where the agent routes are mounted.
const DefaultBasePath = "/api/v1/agent"

const (
	maxBodyBytes      = 1 << 20
	defaultTraceLimit = 50
	keepAliveInterval = 30 * time.Second
)

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Agent *agent.Agent

	// Traces keeps recent invocation traces for the /traces views.
	Traces *tracing.Store

	// Bus receives invocation lifecycle events.
	Bus *events.Bus

	Log      *zap.Logger
	BasePath string
}

// RegisterRoutes registers /health and every route under deps.BasePath.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	if deps.Traces == nil {
		deps.Traces = tracing.NewStore(200)
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(deps.Log)
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.BasePath == "" {
		deps.BasePath = DefaultBasePath
	}
	base := "/" + strings.Trim(deps.BasePath, "/")

	h := &agentHandler{deps: deps, log: deps.Log.Named("http")}

	mux.HandleFunc("/health", h.health)
	mux.HandleFunc(base+"/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, base)
		path = strings.Trim(path, "/")

		switch path {
		case "invoke", "run":
			h.invoke(w, r)
			return
		case "stream":
			h.stream(w, r)
			return
		case "ws":
			h.websocket(w, r)
			return
		case "subagents":
			h.subagents(w, r)
			return
		case "tools":
			h.tools(w, r)
			return
		case "events":
			h.events(w, r)
			return
		case "traces":
			h.listTraces(w, r)
			return
		case "":
			http.NotFound(w, r)
			return
		}
		if id, ok := strings.CutPrefix(path, "traces/"); ok {
			h.getTrace(w, r, id)
			return
		}

		// {base}/{thread_id}[/chat|/state]
		threadID, sub := path, ""
		if i := strings.LastIndex(path, "/"); i >= 0 {
			threadID, sub = path[:i], path[i+1:]
		}

		switch sub {
		case "":
			if r.Method != http.MethodDelete {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h.deleteThread(w, r, threadID)
		case "chat":
			h.chat(w, r, threadID)
		case "state":
			h.state(w, r, threadID)
		default:
			if r.Method == http.MethodDelete {
				h.deleteThread(w, r, path)
				return
			}
			http.NotFound(w, r)
		}
	})
}

type agentHandler struct {
	deps *Deps
	log  *zap.Logger
}

// invokeRequest is the body of every invocation route.
type invokeRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

func (req *invokeRequest) validate() error {
	if strings.TrimSpace(req.Query) == "" {
		return agent.ErrEmptyQuery
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	return nil
}

func decodeInvoke(w http.ResponseWriter, r *http.Request) (invokeRequest, bool) {
	var req invokeRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}
	if err := req.validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func (h *agentHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- Invocation ---

func (h *agentHandler) invoke(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeInvoke(w, r)
	if !ok {
		return
	}
	h.respond(w, r, "invoke", req)
}

func (h *agentHandler) chat(w http.ResponseWriter, r *http.Request, threadID string) {
	var req invokeRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.ThreadID = threadID
	if err := req.validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists, err := h.deps.Agent.Store().Exists(r.Context(), threadID)
	if err != nil {
		h.log.Error("check thread", zap.String("thread_id", threadID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Thread %s not found", threadID))
		return
	}
	h.respond(w, r, "chat", req)
}

func (h *agentHandler) respond(w http.ResponseWriter, r *http.Request, method string, req invokeRequest) {
	ctx, finish := h.begin(r.Context(), method, req.ThreadID, req.Query)
	res, err := h.deps.Agent.Invoke(ctx, req.ThreadID, req.Query)
	if err != nil {
		finish("", err)
		writeJSONError(w, statusFor(err), "Agent execution failed: "+err.Error())
		return
	}
	finish(res.Response, nil)
	writeJSON(w, http.StatusOK, res)
}

// begin opens a trace for one invocation and announces it on the bus. The
// returned func closes the trace and publishes the outcome.
func (h *agentHandler) begin(ctx context.Context, method, threadID, query string) (context.Context, func(string, error)) {
	tr := tracing.NewTrace(threadID, h.deps.Agent.ModelName(), method, query)
	h.deps.Traces.Put(tr)
	h.publish(ctx, events.Event{
		Type:     events.InvocationStarted,
		ThreadID: threadID,
		TraceID:  tr.TraceID,
		Method:   method,
	})

	return tracing.WithTrace(ctx, tr), func(response string, err error) {
		tr.Finish(response, err)
		ev := events.Event{
			Type:       events.InvocationCompleted,
			ThreadID:   threadID,
			TraceID:    tr.TraceID,
			Method:     method,
			DurationMs: tr.Summary().DurationMs,
		}
		if err != nil {
			ev.Type = events.InvocationFailed
			ev.Error = err.Error()
		}
		h.publish(context.WithoutCancel(ctx), ev)
	}
}

func (h *agentHandler) publish(ctx context.Context, ev events.Event) {
	if err := h.deps.Bus.Publish(ctx, ev); err != nil {
		h.log.Warn("publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}

// --- Streaming ---

func (h *agentHandler) stream(w http.ResponseWriter, r *http.Request) {
	// Validate before SSE headers are sent (NewWriter commits 200)
	req, ok := decodeInvoke(w, r)
	if !ok {
		return
	}
	sw := sse.NewWriter(w)
	if sw == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	h.streamTo(r.Context(), "stream", req, sw.Data)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checks are left to the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket serves one connection. Each client message {query, thread_id?}
// runs one invocation whose frames are written back as JSON messages.
// Requests on one connection run one after another.
func (h *agentHandler) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	reqs := make(chan invokeRequest)
	go func() {
		defer close(reqs)
		for {
			var req invokeRequest
			if err := conn.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debug("websocket read", zap.Error(err))
				}
				cancel()
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range reqs {
		if err := req.validate(); err != nil {
			if err := conn.WriteJSON(errorFrame(err.Error())); err != nil {
				return
			}
			continue
		}
		if !h.streamTo(ctx, "ws", req, conn.WriteJSON) {
			return
		}
	}
}

// streamTo runs one streamed invocation and hands each frame to send. The
// event channel is always drained; a failed send cancels the run. It reports
// whether every frame was delivered.
func (h *agentHandler) streamTo(ctx context.Context, method string, req invokeRequest, send func(any) error) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, finish := h.begin(ctx, method, req.ThreadID, req.Query)
	finished := false
	ch := make(chan agent.StreamEvent, 64)
	go h.deps.Agent.Stream(ctx, req.ThreadID, req.Query, ch)

	delivered := true
	for ev := range ch {
		switch ev.Type {
		case agent.EventComplete:
			finish(ev.Response, nil)
			finished = true
		case agent.EventError:
			finish("", errors.New(ev.Error))
			finished = true
		}
		if !delivered {
			continue
		}
		if err := send(frameOf(ev)); err != nil {
			h.log.Debug("stream client gone", zap.String("thread_id", req.ThreadID), zap.Error(err))
			delivered = false
			cancel()
		}
	}
	if !finished {
		err := context.Cause(ctx)
		if err == nil {
			err = errors.New("stream ended without a result")
		}
		finish("", err)
	}
	return delivered
}

// frameOf shapes an event for the wire. State frames always carry files and
// todos, even when empty.
func frameOf(ev agent.StreamEvent) any {
	switch ev.Type {
	case agent.EventStateUpdate, agent.EventComplete:
		files := ev.Files
		if files == nil {
			files = map[string]string{}
		}
		todos := ev.Todos
		if todos == nil {
			todos = []plan.Todo{}
		}
		frame := map[string]any{
			"type":      ev.Type,
			"thread_id": ev.ThreadID,
			"files":     files,
			"todos":     todos,
		}
		if ev.Type == agent.EventComplete {
			frame["response"] = ev.Response
		}
		return frame
	case agent.EventError:
		return errorFrame(ev.Error)
	default:
		return ev
	}
}

func errorFrame(msg string) map[string]string {
	return map[string]string{"type": agent.EventError, "error": msg}
}

// --- Threads ---

func (h *agentHandler) state(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := h.deps.Agent.Store().Get(r.Context(), threadID)
	if errors.Is(err, agent.ErrThreadNotFound) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Thread %s not found", threadID))
		return
	}
	if err != nil {
		h.log.Error("load thread", zap.String("thread_id", threadID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve state: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  st.Messages,
		"files":     st.Files.Snapshot(),
		"todos":     st.Todos.Read(),
	})
}

func (h *agentHandler) deleteThread(w http.ResponseWriter, r *http.Request, threadID string) {
	err := h.deps.Agent.Store().Delete(r.Context(), threadID)
	if errors.Is(err, agent.ErrThreadNotFound) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Thread %s not found", threadID))
		return
	}
	if err != nil {
		h.log.Error("delete thread", zap.String("thread_id", threadID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.publish(r.Context(), events.Event{Type: events.ThreadDeleted, ThreadID: threadID})
	w.WriteHeader(http.StatusNoContent)
}

// --- Catalog ---

func (h *agentHandler) subagents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subagents": h.deps.Agent.Profiles().List()})
}

func (h *agentHandler) tools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.deps.Agent.Tools().Schemas()})
}

// --- Traces ---

func (h *agentHandler) listTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultTraceLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": h.deps.Traces.List(limit)})
}

func (h *agentHandler) getTrace(w http.ResponseWriter, r *http.Request, traceID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tr := h.deps.Traces.Get(traceID)
	if tr == nil {
		writeJSONError(w, http.StatusNotFound, "trace not found")
		return
	}
	writeJSON(w, http.StatusOK, tr.Snapshot())
}

// --- Events (SSE relay) ---

func (h *agentHandler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Subscribe first so nothing published after the headers is missed.
	ch := h.deps.Bus.Subscribe()
	defer h.deps.Bus.Unsubscribe(ch)

	sw := sse.NewWriter(w)
	if sw == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := sw.Event(ev.Type, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := sw.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// statusFor maps invocation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
