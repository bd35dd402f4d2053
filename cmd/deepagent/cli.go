package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"deepagent"
	"deepagent/agent"
	"deepagent/logging"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Serve        ServeCmd        `cmd:"" help:"Run the HTTP server"`
	Ask          AskCmd          `cmd:"" help:"Run one query against the configured thread store"`
	HashPassword HashPasswordCmd `cmd:"" name:"hash-password" help:"Print a bcrypt hash for [[auth.users]]"`
	Version      VersionCmd      `cmd:"" help:"Show version information"`
}

// Globals are flags shared by every command. Flags win over the config file
// and the environment.
type Globals struct {
	Config    string `short:"c" help:"Config file path (default: ./deepagent.toml when present)"`
	LogLevel  string `help:"Log level: debug, info, warn or error"`
	Store     string `help:"Thread store backend: memory, file or sqlite"`
	StorePath string `help:"Thread store path"`

	Ctx context.Context `kong:"-"`
	Out io.Writer       `kong:"-"`
	In  io.Reader       `kong:"-"`
}

// load reads the configuration and applies the flag overrides.
func (g *Globals) load() (*deepagent.AppConfig, error) {
	cfg, err := deepagent.LoadConfig(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.Store != "" {
		cfg.Store.Backend = g.Store
	}
	if g.StorePath != "" {
		cfg.Store.Path = g.StorePath
	}
	return cfg, cfg.Validate()
}

// ServeCmd runs the server until interrupted.
type ServeCmd struct {
	Host       string `help:"Listen host"`
	Port       int    `help:"Listen port"`
	AgentsFile string `help:"Sub-agent profiles file, reloaded on change"`
	StaticDir  string `help:"Directory of static UI assets"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.AgentsFile != "" {
		cfg.Agent.AgentsFile = c.AgentsFile
	}
	if c.StaticDir != "" {
		cfg.Server.StaticDir = c.StaticDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer log.Sync()

	app, err := deepagent.NewApp(g.Ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(g.Ctx)
}

// AskCmd runs a single query and prints the answer.
type AskCmd struct {
	Query  string `arg:"" help:"The request to send to the agent"`
	Thread string `short:"t" help:"Thread id to continue (default: a new thread)"`
	JSON   bool   `help:"Print the full result as JSON"`
	Stream bool   `help:"Print model output as it arrives"`
}

func (c *AskCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Log.Format == "json" {
		cfg.Log.Format = "console"
	}
	log, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer log.Sync()

	app, err := deepagent.NewApp(g.Ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	threadID := c.Thread
	if threadID == "" {
		threadID = uuid.NewString()
	}

	var res *agent.Result
	if c.Stream {
		res, err = streamAnswer(g.Ctx, app.Agent(), threadID, c.Query, g.Out)
	} else {
		res, err = app.Agent().Invoke(g.Ctx, threadID, c.Query)
	}
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !c.Stream {
		fmt.Fprintln(g.Out, res.Response)
	}
	fmt.Fprintf(g.Out, "\nthread: %s\n", res.ThreadID)
	return nil
}

// streamAnswer prints content deltas and tool activity, then returns the
// terminal result.
func streamAnswer(ctx context.Context, a *agent.Agent, threadID, query string, out io.Writer) (*agent.Result, error) {
	ch := make(chan agent.StreamEvent, 64)
	go a.Stream(ctx, threadID, query, ch)

	var res *agent.Result
	err := errors.New("stream ended without a result")
	for ev := range ch {
		switch ev.Type {
		case agent.EventContent:
			fmt.Fprint(out, ev.Content)
		case agent.EventToolStart:
			fmt.Fprintf(out, "\n[%s]\n", ev.Name)
		case agent.EventComplete:
			fmt.Fprintln(out)
			res = &agent.Result{Response: ev.Response, ThreadID: ev.ThreadID, Files: ev.Files, Todos: ev.Todos}
			err = nil
		case agent.EventError:
			err = errors.New(ev.Error)
		}
	}
	return res, err
}

// HashPasswordCmd prints a bcrypt hash. The password is read from stdin
// when not given.
type HashPasswordCmd struct {
	Password string `arg:"" optional:"" help:"Password to hash (default: read one line from stdin)"`
}

func (c *HashPasswordCmd) Run(g *Globals) error {
	pw := c.Password
	if pw == "" {
		line, err := bufio.NewReader(g.In).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	hash, err := deepagent.HashPassword(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.Out, hash)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.Out, "deepagent %s (%s)\n", version, commit)
	return nil
}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

func newParser(cli *CLI) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("deepagent"),
		kong.Description("Deep agent server: planning, a virtual filesystem and sub-agent delegation over HTTP."),
		kong.UsageOnError(),
		kongVars(),
	)
}
