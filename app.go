package deepagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deepagent/agent"
	"deepagent/checkpoint"
	"deepagent/events"
	"deepagent/handlers"
	"deepagent/llm"
	"deepagent/logging"
	"deepagent/tools"
	"deepagent/tracing"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component of the server. Build it with NewApp,
// then Run it; Close releases the store and the NATS connection.
type App struct {
	cfg      *AppConfig
	log      *zap.Logger
	agent    *agent.Agent
	profiles *agent.ProfileSet
	bus      *events.Bus
	traces   *tracing.Store
	auth     *AuthService
	watcher  *ProfileWatcher

	closers []io.Closer
}

// NewApp resolves the model, opens the thread store and assembles the
// agent. A missing model provider is not fatal: requests fail with 503.
func NewApp(ctx context.Context, cfg *AppConfig, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{cfg: cfg, log: log, traces: tracing.NewStore(cfg.Agent.TraceCapacity)}

	model, modelName, err := llm.Resolve(cfg.LLM())
	if err != nil {
		log.Warn("no model available, invocations will fail", zap.Error(err))
		model = llm.Unavailable{Err: err}
	}

	cp, closer, err := checkpoint.Open(ctx, cfg.Checkpoint())
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}
	a.closers = append(a.closers, closer)

	var sinks []events.Publisher
	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.Subject, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, nc)
		sinks = append(sinks, nc)
		log.Info("publishing events to nats", zap.String("url", cfg.Events.NATSURL))
	}
	a.bus = events.NewBus(log, sinks...)

	a.profiles = agent.NewProfileSet(agent.DefaultProfiles()...)
	if cfg.Agent.AgentsFile != "" {
		a.watcher = NewProfileWatcher(cfg.Agent.AgentsFile, a.profiles, a.bus, log)
		if err := a.watcher.Reload(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.Auth.Enabled {
		a.auth, err = NewAuthService(cfg.Auth)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	reg, err := tools.NewRegistry()
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []agent.Option{
		agent.WithModelName(modelName),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithMaxDelegationDepth(cfg.Agent.MaxDelegationDepth),
		agent.WithMaxTokens(cfg.Model.MaxTokens),
		agent.WithProfiles(a.profiles),
		agent.WithLogger(log),
		agent.WithHooks(tracing.NewHook(), logging.NewHook(log)),
	}
	if cfg.Agent.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if cfg.Model.Temperature != nil {
		opts = append(opts, agent.WithTemperature(*cfg.Model.Temperature))
	}
	a.agent = agent.New(model, agent.NewThreadStore(cp), reg, opts...)
	return a, nil
}

// Agent returns the orchestrator.
func (a *App) Agent() *agent.Agent { return a.agent }

// Bus returns the lifecycle event bus.
func (a *App) Bus() *events.Bus { return a.bus }

// Handler builds the HTTP handler: agent routes behind auth, the login
// route, optional static files, all wrapped in CORS.
func (a *App) Handler() http.Handler {
	api := http.NewServeMux()
	deps := &handlers.Deps{
		Agent:    a.agent,
		Traces:   a.traces,
		Bus:      a.bus,
		Log:      a.log,
		BasePath: a.cfg.Server.BasePath,
	}
	handlers.RegisterRoutes(api, deps)

	mux := http.NewServeMux()
	mux.Handle("/health", api)
	mux.Handle("/"+strings.Trim(deps.BasePath, "/")+"/", a.auth.Middleware(api))
	if a.auth != nil {
		mux.HandleFunc("/auth/login", a.auth.LoginHandler)
	}

	if dir := a.cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			a.log.Info("serving static files", zap.String("dir", dir))
			mux.Handle("/", spaHandler(dir))
		}
	}
	return corsMiddleware(mux)
}

// Run serves HTTP and, when configured, watches agents.yaml, until ctx is
// cancelled or a component fails. Shutdown is graceful.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        a.cfg.Addr(),
		Handler:     a.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// WriteTimeout stays 0 for SSE and websocket streams.
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("deepagent starting",
			zap.String("addr", srv.Addr),
			zap.String("model", a.agent.ModelName()),
			zap.String("store", a.cfg.Store.Backend),
			zap.Bool("auth", a.auth != nil))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	return g.Wait()
}

// Close releases the thread store and event sinks.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// spaHandler serves files from dir and falls back to index.html.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.FromSlash(r.URL.Path))
		if _, err := os.Stat(path); os.IsNotExist(err) && r.URL.Path != "/" {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
