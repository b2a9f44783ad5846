package provider

import (
	"fmt"
)

// Config mirrors config.LLMConfig to avoid an import cycle.
type Config struct {
	ID          string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// FromConfig creates the reasoning engine provider. Only OpenAI-compatible
// endpoints are supported; BaseURL selects OpenAI, Azure, Ollama, vLLM and
// similar servers.
func FromConfig(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %q: api key is required", cfg.ID)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %q: model is required", cfg.ID)
	}
	id := cfg.ID
	if id == "" {
		id = "openai"
	}
	return NewOpenAIProvider(id, cfg.BaseURL, cfg.APIKey, cfg.Model,
		WithMaxTokens(cfg.MaxTokens),
		WithTemperature(cfg.Temperature),
	), nil
}
