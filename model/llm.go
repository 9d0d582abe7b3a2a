package model

import (
	"fmt"
	"strings"
	"time"
)

// ProviderKind identifies which backend an LLM configuration talks to.
type ProviderKind string

const (
	// ProviderOllama is a local model server speaking the Ollama API.
	ProviderOllama ProviderKind = "OLLAMA"
	// ProviderOpenAI is an OpenAI-compatible endpoint that requires an API key.
	ProviderOpenAI ProviderKind = "OPENAI"
	// ProviderGemini is a Gemini-compatible endpoint that requires an API key.
	ProviderGemini ProviderKind = "GEMINI"
	// ProviderCustom is a self-hosted OpenAI-compatible endpoint. The API key
	// is optional but the base URL is not.
	ProviderCustom ProviderKind = "CUSTOM"
	// ProviderAnthropic is the Anthropic Messages API.
	ProviderAnthropic ProviderKind = "ANTHROPIC"
)

// ProviderKinds lists every kind accepted by the configuration surface.
var ProviderKinds = []ProviderKind{
	ProviderOllama,
	ProviderOpenAI,
	ProviderGemini,
	ProviderCustom,
	ProviderAnthropic,
}

// ParseProviderKind normalizes user input ("openai", " Gemini ") to a kind.
// Empty input maps to ProviderOllama, matching the stored default.
func ParseProviderKind(s string) (ProviderKind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ProviderOllama, nil
	}
	for _, k := range ProviderKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown provider: %s", s)
}

// RequiresAPIKey reports whether the kind cannot be used without a credential.
func (k ProviderKind) RequiresAPIKey() bool {
	switch k {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic:
		return true
	}
	return false
}

// LLMConfig is a stored provider configuration. Sessions reference it by ID.
type LLMConfig struct {
	ID       int64
	Name     string
	Provider ProviderKind
	BaseURL  string
	Model    string
	APIKey   string
	Extra    map[string]any
	IsActive bool
}

// Validate checks the invariants the configuration surface must uphold
// before a config is saved. The provider factory re-checks the credential
// rules at build time, so a config that bypassed Validate still fails fast.
func (c *LLMConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if c.Provider.RequiresAPIKey() && c.APIKey == "" {
		return &ConfigurationError{Provider: c.Provider, Reason: "api_key is required"}
	}
	if c.Provider == ProviderCustom && c.BaseURL == "" {
		return &ConfigurationError{Provider: c.Provider, Reason: "base_url is required"}
	}
	return nil
}

// String renders the config the way it is shown in logs. The API key is
// never included.
func (c LLMConfig) String() string {
	return fmt.Sprintf("%s (%s:%s)", c.Name, c.Provider, c.Model)
}

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "New Session"

// Session is a conversation bound to exactly one LLM configuration.
type Session struct {
	ID        string
	LLMID     int64
	Title     string
	Metadata  map[string]any
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TurnResult is returned to the caller after a completed chat turn.
type TurnResult struct {
	SessionID        string           `json:"session_uuid"`
	AssistantMessage AssistantMessage `json:"assistant_message"`
	Usage            map[string]any   `json:"usage"`
}

// AssistantMessage is the persisted assistant reply as exposed to callers.
type AssistantMessage struct {
	ID      int64  `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
