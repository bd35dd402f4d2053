package llm

import (
	"fmt"
	"strings"
)

const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-3-5-sonnet-20240620"
	defaultOllamaURL      = "http://localhost:11434/v1"
	defaultOpenAIURL      = "https://api.openai.com/v1"
)

// ModelConfig selects and configures a provider.
type ModelConfig struct {
	Provider       string // openai | anthropic | ollama | gateway | "" (auto)
	Model          string
	BaseURL        string
	APIKey         string
	OpenAIKey      string
	AnthropicKey   string
	OpenAIModel    string
	AnthropicModel string
}

// Resolve returns a Client and the effective model name. With an empty
// provider, OpenAI is picked when an OpenAI key is present, then Anthropic.
func Resolve(cfg ModelConfig) (Client, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		switch {
		case cfg.OpenAIKey != "":
			provider = "openai"
		case cfg.AnthropicKey != "":
			provider = "anthropic"
		default:
			return nil, "", ErrNoProvider
		}
	}

	switch provider {
	case "openai":
		key := firstNonEmpty(cfg.APIKey, cfg.OpenAIKey)
		if key == "" {
			return nil, "", fmt.Errorf("openai provider requires an api key: %w", ErrNoProvider)
		}
		model := firstNonEmpty(cfg.Model, cfg.OpenAIModel, DefaultOpenAIModel)
		return NewOpenAIClient(firstNonEmpty(cfg.BaseURL, defaultOpenAIURL), key, model), model, nil
	case "anthropic":
		key := firstNonEmpty(cfg.APIKey, cfg.AnthropicKey)
		if key == "" {
			return nil, "", fmt.Errorf("anthropic provider requires an api key: %w", ErrNoProvider)
		}
		model := firstNonEmpty(cfg.Model, cfg.AnthropicModel, DefaultAnthropicModel)
		return NewAnthropicClient(cfg.BaseURL, key, model), model, nil
	case "ollama":
		if cfg.Model == "" {
			return nil, "", fmt.Errorf("ollama provider requires a model name")
		}
		return NewOpenAIClient(firstNonEmpty(cfg.BaseURL, defaultOllamaURL), "ollama", cfg.Model), cfg.Model, nil
	case "gateway":
		if cfg.BaseURL == "" {
			return nil, "", fmt.Errorf("gateway provider requires base_url")
		}
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model), cfg.Model, nil
	default:
		return nil, "", fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
