// Package deepagent assembles the agent server: configuration, auth, the
// agents.yaml profile loader and the HTTP application.
package deepagent

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"deepagent/agent"
	"deepagent/checkpoint"
	"deepagent/handlers"
	"deepagent/llm"
	"deepagent/logging"
)

// DefaultConfigFile is read when present and no path is given.
const DefaultConfigFile = "deepagent.toml"

// AppConfig is the full server configuration.
type AppConfig struct {
	Server ServerConfig `toml:"server"`
	Agent  AgentConfig  `toml:"agent"`
	Model  ModelConfig  `toml:"model"`
	Store  StoreConfig  `toml:"store"`
	Auth   AuthConfig   `toml:"auth"`
	Events EventsConfig `toml:"events"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	BasePath  string `toml:"base_path"`
	StaticDir string `toml:"static_dir"` // SPA assets, optional
}

type AgentConfig struct {
	MaxIterations      int    `toml:"max_iterations"`
	MaxDelegationDepth int    `toml:"max_delegation_depth"`
	SystemPrompt       string `toml:"system_prompt"`
	AgentsFile         string `toml:"agents_file"` // sub-agent profiles, watched for changes
	TraceCapacity      int    `toml:"trace_capacity"`
}

// ModelConfig selects the provider. Keys never come from the file itself:
// api_key_env names the variable to read, and the provider variables are
// read from the environment.
type ModelConfig struct {
	Provider    string   `toml:"provider"` // openai | anthropic | ollama | gateway | "" (auto)
	Model       string   `toml:"model"`
	BaseURL     string   `toml:"base_url"`
	APIKeyEnv   string   `toml:"api_key_env"`
	MaxTokens   int      `toml:"max_tokens"`
	Temperature *float64 `toml:"temperature"`

	OpenAIKey      string `toml:"-"`
	AnthropicKey   string `toml:"-"`
	OpenAIModel    string `toml:"-"`
	AnthropicModel string `toml:"-"`
}

type StoreConfig struct {
	Backend string `toml:"backend"` // memory | file | sqlite
	Path    string `toml:"path"`
	TTL     string `toml:"ttl"` // memory backend only, e.g. "24h"
}

type AuthConfig struct {
	Enabled      bool         `toml:"enabled"`
	JWTSecretEnv string       `toml:"jwt_secret_env"`
	TokenExpiry  string       `toml:"token_expiry"`
	Users        []UserConfig `toml:"users"`

	JWTSecret string `toml:"-"`
}

type UserConfig struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"` // bcrypt, see `deepagent hash-password`
	Role         string `toml:"role"`
}

type EventsConfig struct {
	NATSURL string `toml:"nats_url"`
	Subject string `toml:"subject"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8000,
			BasePath: handlers.DefaultBasePath,
		},
		Agent: AgentConfig{
			MaxIterations:      agent.DefaultMaxIterations,
			MaxDelegationDepth: agent.DefaultMaxDelegationDepth,
			TraceCapacity:      1000,
		},
		Model: ModelConfig{
			MaxTokens:      4096,
			OpenAIModel:    llm.DefaultOpenAIModel,
			AnthropicModel: llm.DefaultAnthropicModel,
		},
		Store: StoreConfig{Backend: "memory"},
		Auth: AuthConfig{
			JWTSecretEnv: "DEEPAGENT_JWT_SECRET",
			TokenExpiry:  "24h",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig builds the configuration: defaults, then the TOML file, then
// the environment (after loading .env). An empty path reads
// DefaultConfigFile when it exists.
func LoadConfig(path string) (*AppConfig, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads files that exist. Variables already set win.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("HOST", &c.Server.Host)
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	str("OPENAI_API_KEY", &c.Model.OpenAIKey)
	str("ANTHROPIC_API_KEY", &c.Model.AnthropicKey)
	str("DEFAULT_MODEL", &c.Model.OpenAIModel)
	str("DEFAULT_ANTHROPIC_MODEL", &c.Model.AnthropicModel)
	str("DEEPAGENT_STORE", &c.Store.Backend)
	str("DEEPAGENT_STORE_PATH", &c.Store.Path)
	str("NATS_URL", &c.Events.NATSURL)
	str("LOG_LEVEL", &c.Log.Level)
	if c.Auth.JWTSecretEnv != "" {
		str(c.Auth.JWTSecretEnv, &c.Auth.JWTSecret)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be at least 1"))
	}
	if c.Agent.MaxDelegationDepth < 0 {
		errs = append(errs, fmt.Errorf("agent.max_delegation_depth must not be negative"))
	}
	switch strings.ToLower(c.Store.Backend) {
	case "memory", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want memory, file or sqlite", c.Store.Backend))
	}
	if _, err := c.StoreTTL(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth is enabled but %s is not set", c.Auth.JWTSecretEnv))
		}
		if _, err := time.ParseDuration(c.Auth.TokenExpiry); err != nil {
			errs = append(errs, fmt.Errorf("auth.token_expiry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StoreTTL parses store.ttl; empty means no expiry.
func (c *AppConfig) StoreTTL() (time.Duration, error) {
	if c.Store.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.TTL)
	if err != nil {
		return 0, fmt.Errorf("store.ttl: %w", err)
	}
	return d, nil
}

// Addr is the listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LLM maps the model section onto llm.Resolve's input.
func (c *AppConfig) LLM() llm.ModelConfig {
	mc := llm.ModelConfig{
		Provider:       c.Model.Provider,
		Model:          c.Model.Model,
		BaseURL:        c.Model.BaseURL,
		OpenAIKey:      c.Model.OpenAIKey,
		AnthropicKey:   c.Model.AnthropicKey,
		OpenAIModel:    c.Model.OpenAIModel,
		AnthropicModel: c.Model.AnthropicModel,
	}
	if c.Model.APIKeyEnv != "" {
		mc.APIKey = os.Getenv(c.Model.APIKeyEnv)
	}
	return mc
}

// Checkpoint maps the store section onto checkpoint.Open's input.
func (c *AppConfig) Checkpoint() checkpoint.Config {
	ttl, _ := c.StoreTTL()
	return checkpoint.Config{Backend: c.Store.Backend, Path: c.Store.Path, TTL: ttl}
}

// Logging maps the log section onto logging.New's input.
func (c *AppConfig) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
