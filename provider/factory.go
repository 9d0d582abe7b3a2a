package provider

import (
	"net/http"
	"time"

	"chatrelay/model"
)

// NewProvider creates a provider based on configuration.
//
// This is the centralized factory for every backend. It dispatches on
// Config.Kind once, so callers only ever hold a model.Provider.
//
// Supported kinds:
//   - ProviderOpenAI: requires APIKey
//   - ProviderGemini: requires APIKey
//   - ProviderAnthropic: requires APIKey
//   - ProviderCustom: requires BaseURL, APIKey optional (OpenAI-compatible)
//   - ProviderOllama and anything else: always succeeds; an empty BaseURL
//     falls back to the Ollama default host
//
// A missing credential or endpoint is reported as *model.ConfigurationError.
// No network calls are made.
//
// Example:
//
//	p, err := provider.NewProvider(provider.Config{
//	    Kind:   model.ProviderOpenAI,
//	    Model:  "gpt-4o-mini",
//	    APIKey: "sk-...",
//	})
func NewProvider(cfg Config) (model.Provider, error) {
	var (
		p   model.Provider
		err error
	)

	// p stays a nil interface on failure, never a typed nil.
	switch cfg.Kind {
	case model.ProviderOpenAI:
		var c *OpenAIProvider
		if c, err = NewOpenAIProvider(cfg); err == nil {
			p = c
		}
	case model.ProviderGemini:
		var c *GeminiProvider
		if c, err = NewGeminiProvider(cfg); err == nil {
			p = c
		}
	case model.ProviderCustom:
		var c *OpenAIProvider
		if c, err = NewCustomProvider(cfg); err == nil {
			p = c
		}
	case model.ProviderAnthropic:
		var c *AnthropicProvider
		if c, err = NewAnthropicProvider(cfg); err == nil {
			p = c
		}
	default:
		var c *OllamaProvider
		if c, err = NewOllamaProvider(cfg); err == nil {
			p = c
		}
	}

	if err != nil {
		return nil, err
	}
	return p, nil
}

// Defaults carries deployment-wide settings that stored configurations do
// not hold themselves.
type Defaults struct {
	// OllamaHost replaces an empty BaseURL on OLLAMA configurations.
	OllamaHost string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewFromLLM builds the provider for a stored LLM configuration.
func NewFromLLM(llm model.LLMConfig, defaults Defaults) (model.Provider, error) {
	cfg := Config{
		Kind:       llm.Provider,
		BaseURL:    llm.BaseURL,
		Model:      llm.Model,
		APIKey:     llm.APIKey,
		Extra:      llm.Extra,
		HTTPClient: defaults.HTTPClient,
		Timeout:    defaults.Timeout,
	}

	if cfg.BaseURL == "" && isOllamaKind(cfg.Kind) {
		cfg.BaseURL = defaults.OllamaHost
	}

	return NewProvider(cfg)
}

// Builder adapts NewFromLLM to the function shape the chat service expects.
func (d Defaults) Builder() func(model.LLMConfig) (model.Provider, error) {
	return func(llm model.LLMConfig) (model.Provider, error) {
		return NewFromLLM(llm, d)
	}
}

func isOllamaKind(kind model.ProviderKind) bool {
	switch kind {
	case model.ProviderOpenAI, model.ProviderGemini, model.ProviderCustom, model.ProviderAnthropic:
		return false
	}
	return true
}
