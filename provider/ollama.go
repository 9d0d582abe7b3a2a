package provider

import (
	"context"
	"fmt"

	"chatrelay/config"
	"chatrelay/model"
	"chatrelay/ollama"
)

// OllamaProvider wraps ollama.Client to implement model.Provider.
//
// Merged parameters are sent nested under "options". Usage is reported as
// {"eval_count": n}, with nil when the server did not count anything.
type OllamaProvider struct {
	client *ollama.Client
	extra  map[string]any
}

// NewOllamaProvider creates a new Ollama provider instance.
//
// An empty BaseURL falls back to ollama.DefaultHost. Construction never
// fails for a missing credential: local servers are unauthenticated.
//
// Example:
//
//	p, err := NewOllamaProvider(Config{
//	    BaseURL: "http://localhost:11434",
//	    Model:   "llama3.1",
//	})
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	client, err := ollama.NewClient(cfg.BaseURL, cfg.Model, cfg.httpClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &OllamaProvider{
		client: client,
		extra:  cfg.Extra,
	}, nil
}

// Chat implements model.Provider.
func (p *OllamaProvider) Chat(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
	params := MergeParams(p.extra, options)

	config.Debugf("[Ollama] chat model=%s messages=%d params=%d", p.client.GetModel(), len(messages), len(params))

	resp, err := p.client.Chat(ctx, ConvertToOllamaMessages(messages), params)
	if err != nil {
		return nil, model.NewTransportError(p.Name(), err)
	}

	var evalCount any
	if resp.EvalCount > 0 {
		evalCount = int64(resp.EvalCount)
	}

	return &model.ChatResult{
		Content: resp.Message.Content,
		Usage:   map[string]any{"eval_count": evalCount},
	}, nil
}

// Name implements model.Provider.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// GetModel implements model.Provider.
func (p *OllamaProvider) GetModel() string {
	return p.client.GetModel()
}

// BaseURL returns the server this provider talks to.
func (p *OllamaProvider) BaseURL() string {
	return p.client.BaseURL()
}
