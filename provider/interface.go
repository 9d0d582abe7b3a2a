// Package provider implements the LLM backends a chat session can be bound to.
//
// Every backend satisfies model.Provider: it takes the ordered conversation
// (role + content only) plus per-call options and returns a
// model.ChatResult holding the reply text and the provider's token usage.
// Callers never see provider SDK types.
//
// # Backends
//
//   - OllamaProvider: local model server, POST <host>/api/chat
//   - OpenAIProvider: OpenAI and any OpenAI-compatible server,
//     POST <base>/chat/completions with bearer auth
//   - GeminiProvider: POST <base>/v1beta/models/<model>:generateContent?key=...
//   - AnthropicProvider: POST <base>/v1/messages
//
// # Parameters
//
// Each stored configuration carries default parameters (temperature, top_p,
// ...). Per-call options are layered over them with MergeParams, where the
// option wins. How the merged map reaches the wire differs per backend:
// Ollama nests it under "options", OpenAI and Anthropic flatten it into the
// request body, and Gemini keeps only the generation settings it knows.
//
// # Errors
//
// Response parsing is tolerant: a reply missing the expected fields yields
// empty content and nil usage counters instead of an error. Failing to reach
// the provider, a timeout or a non-2xx status returns *model.TransportError.
// A configuration that cannot work (no API key where one is required) is
// rejected by the constructors with *model.ConfigurationError.
//
// # Usage
//
//	p, err := provider.NewFromLLM(llm, provider.Defaults{
//	    OllamaHost: "http://localhost:11434",
//	    Timeout:    120 * time.Second,
//	})
//	if err != nil {
//	    // handle error
//	}
//	result, err := p.Chat(ctx, history, map[string]any{"temperature": 0.2})
package provider

import (
	"net/http"
	"time"

	"chatrelay/model"
)

// DefaultTimeout bounds a single provider call when no timeout is configured.
const DefaultTimeout = 120 * time.Second

// Default endpoints used when a configuration leaves BaseURL empty.
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultGeminiBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
)

// Config holds provider-specific configuration.
type Config struct {
	Kind    model.ProviderKind
	BaseURL string
	Model   string
	APIKey  string
	Extra   map[string]any

	// HTTPClient is shared by every request the provider makes. When nil a
	// client with Timeout (or DefaultTimeout) is created.
	HTTPClient *http.Client
	Timeout    time.Duration
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
