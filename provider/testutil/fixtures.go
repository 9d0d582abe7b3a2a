package testutil

import "chatrelay/model"

// TestMessages returns a sample conversation for testing
func TestMessages() []model.ChatMessage {
	return []model.ChatMessage{
		{Role: model.RoleSystem, Content: "You are terse."},
		{Role: model.RoleUser, Content: "Hello, how are you?"},
		{Role: model.RoleAssistant, Content: "I'm doing well, thank you!"},
		{Role: model.RoleUser, Content: "Can you help me with a task?"},
	}
}

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.ChatMessage {
	return []model.ChatMessage{
		{Role: model.RoleUser, Content: content},
	}
}

// LocalLLM returns a stored Ollama configuration
func LocalLLM() model.LLMConfig {
	return model.LLMConfig{
		Name:     "Local",
		Provider: model.ProviderOllama,
		Model:    "llama3",
		Extra:    map[string]any{"temperature": 0.7},
		IsActive: true,
	}
}
