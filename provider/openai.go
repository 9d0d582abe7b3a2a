package provider

import (
	"context"

	"chatrelay/config"
	"chatrelay/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

// OpenAIProvider implements model.Provider for OpenAI and any server that
// speaks the OpenAI chat completions API (vLLM, LM Studio, llama.cpp ...).
//
// Merged parameters are flattened into the top-level request body. The reply
// is read from the raw response so a body missing "choices" or "usage"
// degrades to empty content and nil counters.
type OpenAIProvider struct {
	client  openai.Client
	name    string
	model   string
	baseURL string
	extra   map[string]any
}

// NewOpenAIProvider creates a provider for the hosted OpenAI API.
//
// Parameters:
//   - BaseURL: API base URL (default: DefaultOpenAIBaseURL)
//   - APIKey: API key (required)
//   - Model: model identifier sent as-is
//
// Returns *model.ConfigurationError if the API key is missing.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, &model.ConfigurationError{Provider: model.ProviderOpenAI, Reason: "api_key is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	return newOpenAICompatible("openai", cfg), nil
}

// NewCustomProvider creates a provider for a self-hosted OpenAI-compatible
// server. The base URL is required; the API key may be empty, in which case
// no Authorization header is sent.
func NewCustomProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, &model.ConfigurationError{Provider: model.ProviderCustom, Reason: "base_url is required"}
	}
	return newOpenAICompatible("custom", cfg), nil
}

func newOpenAICompatible(name string, cfg Config) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(cfg.httpClient()),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// The SDK falls back to OPENAI_API_KEY from the environment.
		opts = append(opts, option.WithHeaderDel("authorization"))
	}

	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		name:    name,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		extra:   cfg.Extra,
	}
}

// Chat implements model.Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
	params := MergeParams(p.extra, options)

	req := openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(messages),
		Model:    openai.ChatModel(p.model),
	}

	reqOpts := make([]option.RequestOption, 0, len(params))
	for _, key := range sortedKeys(params) {
		reqOpts = append(reqOpts, option.WithJSONSet(key, params[key]))
	}

	config.Debugf("[%s] chat model=%s messages=%d params=%d", p.name, p.model, len(messages), len(params))

	completion, err := p.client.Chat.Completions.New(ctx, req, reqOpts...)
	if err != nil {
		return nil, model.NewTransportError(p.name, err)
	}

	body := gjson.Parse(completion.RawJSON())

	return &model.ChatResult{
		Content: body.Get("choices.0.message.content").String(),
		Usage:   tokenUsage(body, "usage.prompt_tokens", "usage.completion_tokens", "usage.total_tokens"),
	}, nil
}

// Name implements model.Provider.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// GetModel implements model.Provider.
func (p *OpenAIProvider) GetModel() string {
	return p.model
}

// BaseURL returns the API base URL.
func (p *OpenAIProvider) BaseURL() string {
	return p.baseURL
}
