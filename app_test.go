package deepagent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *AppConfig {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Model.Provider = "openai" // no key: every invocation reports 503
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "threads.db")
	return cfg
}

func newTestApp(t *testing.T, cfg *AppConfig) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func serve(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestApp_NoProvider(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	h := app.Handler()

	rec := serve(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(h, http.MethodPost, "/api/v1/agent/invoke", `{"query":"hi","thread_id":"t1"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(h, http.MethodOptions, "/api/v1/agent/invoke", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The failed run still persisted the user message to sqlite.
	st, err := app.Agent().Store().Get(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "hi", st.Messages[0].Content)
}

func TestApp_Auth(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "s3cret"
	cfg.Auth.Users = []UserConfig{{Username: "ada", PasswordHash: hash}}

	h := newTestApp(t, cfg).Handler()

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/api/v1/agent/subagents", "", "").Code)

	rec := serve(h, http.MethodPost, "/auth/login", `{"username":"ada","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decodeToken(t, rec)

	rec = serve(h, http.MethodGet, "/api/v1/agent/subagents", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "research-agent")
}

func TestApp_AgentsFileAndStatic(t *testing.T) {
	dir := t.TempDir()
	agents := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(agents, []byte(agentsYAML), 0o644))
	static := filepath.Join(dir, "static")
	require.NoError(t, os.Mkdir(static, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>app</html>"), 0o644))

	cfg := testConfig(t)
	cfg.Agent.AgentsFile = agents
	cfg.Server.StaticDir = static
	app := newTestApp(t, cfg)

	_, ok := app.Agent().Profiles().Get("critic-agent")
	assert.True(t, ok)
	_, ok = app.Agent().Profiles().Get("writing-agent")
	assert.False(t, ok, "agents.yaml replaces the built-in profiles")

	rec := serve(app.Handler(), http.MethodGet, "/some/client/route", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")
}

func TestNewApp_BadAgentsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.AgentsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewApp(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestApp_RunStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	app := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
