package provider

import (
	"encoding/json"
	"maps"
	"sort"

	"chatrelay/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"
)

// MergeParams overlays per-call overrides on configured defaults.
//
// The result is a new map; neither input is modified. Keys present in both
// take the override value. Either argument may be nil.
//
// Example:
//
//	MergeParams(map[string]any{"temperature": 0.7, "top_p": 0.9},
//	    map[string]any{"temperature": 0.1})
//	// map[temperature:0.1 top_p:0.9]
func MergeParams(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	maps.Copy(merged, defaults)
	maps.Copy(merged, overrides)
	return merged
}

// sortedKeys returns the keys of m in lexical order so request bodies are
// deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConvertToOllamaMessages converts the conversation to Ollama api.Message.
//
// Both types carry Role and Content, so this is a direct field mapping.
// Ollama accepts every role natively.
func ConvertToOllamaMessages(messages []model.ChatMessage) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return result
}

// ConvertToOpenAIMessages converts the conversation to the OpenAI chat format.
//
// Tool turns are sent as user messages: tool results require a tool_call_id
// that stored turns do not carry.
func ConvertToOpenAIMessages(messages []model.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

// convertToAnthropicMessages splits the conversation into the messages array
// and the top-level system blocks. Anthropic has no system role inside
// messages.
func convertToAnthropicMessages(messages []model.ChatMessage) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var systemBlocks []anthropic.TextBlockParam
	anthropicMsgs := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{
				Text: msg.Content,
			})

		case model.RoleAssistant:
			anthropicMsgs = append(anthropicMsgs,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)),
			)

		default:
			// user, tool and unknown roles
			anthropicMsgs = append(anthropicMsgs,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)),
			)
		}
	}

	return anthropicMsgs, systemBlocks
}

// geminiRole maps a conversation role onto the two roles Gemini accepts.
//
//	assistant -> model
//	model     -> model
//	system    -> user (no system role in contents)
//	user      -> user
//	anything  -> user
func geminiRole(role model.Role) string {
	switch role {
	case model.RoleAssistant, "model":
		return "model"
	default:
		return "user"
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

// convertToGeminiContents builds the contents array of a generateContent
// request, one single-part entry per turn.
func convertToGeminiContents(messages []model.ChatMessage) []geminiContent {
	result := make([]geminiContent, len(messages))
	for i, msg := range messages {
		result[i] = geminiContent{
			Role:  geminiRole(msg.Role),
			Parts: []geminiPart{{Text: msg.Content}},
		}
	}
	return result
}

// geminiGenerationKeys lists the parameters forwarded to generationConfig and
// their wire names. Everything else is dropped.
var geminiGenerationKeys = map[string]string{
	"temperature":       "temperature",
	"top_p":             "topP",
	"top_k":             "topK",
	"max_output_tokens": "maxOutputTokens",
}

// geminiGenerationConfig extracts the supported generation settings from the
// merged parameters. It returns nil when none are present.
func geminiGenerationConfig(params map[string]any) map[string]any {
	var cfg map[string]any
	for key, wire := range geminiGenerationKeys {
		v, ok := params[key]
		if !ok {
			continue
		}
		if cfg == nil {
			cfg = make(map[string]any, len(geminiGenerationKeys))
		}
		cfg[wire] = v
	}
	return cfg
}

// intParam converts a numeric parameter decoded from JSON or set in Go code.
func intParam(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// usageField reads an integer counter at path, or nil when the path is
// missing or not a number.
func usageField(body gjson.Result, path string) any {
	v := body.Get(path)
	if v.Type != gjson.Number {
		return nil
	}
	return v.Int()
}

// tokenUsage builds the normalized prompt/completion/total map from the given
// paths. When totalPath is empty the total is the sum of the two counters if
// both are present.
func tokenUsage(body gjson.Result, promptPath, completionPath, totalPath string) map[string]any {
	prompt := usageField(body, promptPath)
	completion := usageField(body, completionPath)

	var total any
	if totalPath != "" {
		total = usageField(body, totalPath)
	} else if p, ok := prompt.(int64); ok {
		if c, ok := completion.(int64); ok {
			total = p + c
		}
	}

	return map[string]any{
		"prompt_tokens":     prompt,
		"completion_tokens": completion,
		"total_tokens":      total,
	}
}
