package provider

import (
	"context"

	"chatrelay/config"
	"chatrelay/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"
)

// anthropicMaxTokens is sent when max_tokens is not set in the parameters.
// The Messages API rejects requests without it.
const anthropicMaxTokens = 4096

// AnthropicProvider implements model.Provider using Anthropic's Messages API.
type AnthropicProvider struct {
	client  *anthropic.Client
	model   anthropic.Model
	baseURL string
	extra   map[string]any
}

// NewAnthropicProvider creates a new Anthropic provider instance.
//
// Parameters:
//   - BaseURL: API base URL (default: DefaultAnthropicBaseURL)
//   - APIKey: API key (required)
//   - Model: model identifier sent as-is
//
// Returns *model.ConfigurationError if the API key is missing.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, &model.ConfigurationError{Provider: model.ProviderAnthropic, Reason: "api_key is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAnthropicBaseURL
	}

	client := anthropic.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.httpClient()),
		option.WithMaxRetries(0),
	)

	return &AnthropicProvider{
		client:  &client,
		model:   anthropic.Model(cfg.Model),
		baseURL: cfg.BaseURL,
		extra:   cfg.Extra,
	}, nil
}

// Chat implements model.Provider.
//
// System turns become top-level system blocks. Merged parameters other than
// max_tokens are flattened into the request body.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
	params := MergeParams(p.extra, options)
	anthropicMessages, systemBlocks := convertToAnthropicMessages(messages)

	req := anthropic.MessageNewParams{
		Model:     p.model,
		Messages:  anthropicMessages,
		MaxTokens: anthropicMaxTokens,
	}
	if len(systemBlocks) > 0 {
		req.System = systemBlocks
	}
	if n, ok := intParam(params["max_tokens"]); ok {
		req.MaxTokens = n
		delete(params, "max_tokens")
	}

	reqOpts := make([]option.RequestOption, 0, len(params))
	for _, key := range sortedKeys(params) {
		reqOpts = append(reqOpts, option.WithJSONSet(key, params[key]))
	}

	config.Debugf("[Anthropic] chat model=%s messages=%d system=%d params=%d", p.model, len(anthropicMessages), len(systemBlocks), len(params))

	msg, err := p.client.Messages.New(ctx, req, reqOpts...)
	if err != nil {
		return nil, model.NewTransportError(p.Name(), err)
	}

	body := gjson.Parse(msg.RawJSON())

	var content string
	for _, block := range body.Get("content").Array() {
		if block.Get("type").String() == "text" {
			content += block.Get("text").String()
		}
	}

	return &model.ChatResult{
		Content: content,
		Usage:   tokenUsage(body, "usage.input_tokens", "usage.output_tokens", ""),
	}, nil
}

// Name implements model.Provider.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// GetModel implements model.Provider.
func (p *AnthropicProvider) GetModel() string {
	return string(p.model)
}
