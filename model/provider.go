package model

import "context"

// Provider abstracts LLM provider implementations (Ollama, OpenAI-compatible,
// Gemini, Anthropic) using the provider-agnostic types of this package.
//
// This interface is defined in the model package (not the provider package)
// so that callers such as the chat orchestrator and test mocks can depend on
// it without importing every provider SDK.
type Provider interface {
	// Chat sends the full conversation and returns the normalized reply.
	// options are per-call parameters layered over the configured defaults.
	Chat(ctx context.Context, messages []ChatMessage, options map[string]any) (*ChatResult, error)

	// Name returns the provider identifier used in errors and logs.
	Name() string

	// GetModel returns the model identifier sent to the provider.
	GetModel() string
}

// ChatResult is a provider reply normalized to the common representation.
//
// Usage keeps whatever counters the provider reported under stable keys
// (prompt_tokens, completion_tokens, total_tokens for hosted APIs,
// eval_count for Ollama). Missing counters are stored as nil.
type ChatResult struct {
	Content string
	Usage   map[string]any
}
