package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"chatrelay/config"
	"chatrelay/model"

	"github.com/tidwall/gjson"
)

// GeminiProvider implements model.Provider for the Gemini generateContent API.
//
// Gemini has only "user" and "model" roles, so system turns are sent as user
// turns. Of the merged parameters only temperature, top_p, top_k and
// max_output_tokens are forwarded, inside generationConfig.
type GeminiProvider struct {
	httpClient *http.Client
	model      string
	baseURL    string
	apiKey     string
	extra      map[string]any
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig map[string]any  `json:"generationConfig,omitempty"`
}

// NewGeminiProvider creates a new Gemini provider instance.
//
// Parameters:
//   - BaseURL: API host (default: DefaultGeminiBaseURL). A trailing
//     "/v1beta" is accepted and stripped.
//   - APIKey: API key (required), sent as the "key" query parameter
//   - Model: model identifier, e.g. "gemini-1.5-flash"
//
// Returns *model.ConfigurationError if the API key is missing.
func NewGeminiProvider(cfg Config) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, &model.ConfigurationError{Provider: model.ProviderGemini, Reason: "api_key is required"}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/v1beta")

	return &GeminiProvider{
		httpClient: cfg.httpClient(),
		model:      cfg.Model,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		extra:      cfg.Extra,
	}, nil
}

// endpoint returns the generateContent URL including the key.
func (p *GeminiProvider) endpoint() string {
	return p.baseURL + "/v1beta/models/" + url.PathEscape(p.model) +
		":generateContent?key=" + url.QueryEscape(p.apiKey)
}

// Chat implements model.Provider.
func (p *GeminiProvider) Chat(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
	req := geminiRequest{
		Contents:         convertToGeminiContents(messages),
		GenerationConfig: geminiGenerationConfig(MergeParams(p.extra, options)),
	}

	config.Debugf("[Gemini] chat model=%s contents=%d generationConfig=%v", p.model, len(req.Contents), req.GenerationConfig)

	raw, err := postJSON(ctx, p.httpClient, p.endpoint(), req)
	if err != nil {
		return nil, model.NewTransportError(p.Name(), err)
	}

	body := gjson.ParseBytes(raw)

	var content strings.Builder
	for _, text := range body.Get("candidates.0.content.parts.#.text").Array() {
		content.WriteString(text.String())
	}

	return &model.ChatResult{
		Content: content.String(),
		Usage: tokenUsage(body,
			"usageMetadata.promptTokenCount",
			"usageMetadata.candidatesTokenCount",
			"usageMetadata.totalTokenCount",
		),
	}, nil
}

// Name implements model.Provider.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// GetModel implements model.Provider.
func (p *GeminiProvider) GetModel() string {
	return p.model
}
