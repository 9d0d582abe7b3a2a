package testutil

import (
	"context"
	"sync"

	"chatrelay/model"
)

// MockProvider implements model.Provider for testing.
type MockProvider struct {
	// Configurable response
	ChatFunc func(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error)

	// State
	mu           sync.Mutex
	calls        [][]model.ChatMessage
	lastOptions  map[string]any
	currentModel string
}

// NewMockProvider creates a mock provider that answers every call with
// "Mock response" and no usage.
func NewMockProvider(modelName string) *MockProvider {
	mock := &MockProvider{
		currentModel: modelName,
	}
	mock.ChatFunc = mock.defaultChat
	return mock
}

// NewStaticProvider creates a mock provider that always returns content and
// usage.
func NewStaticProvider(content string, usage map[string]any) *MockProvider {
	mock := NewMockProvider("mock-model")
	mock.ChatFunc = func(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
		return &model.ChatResult{Content: content, Usage: usage}, nil
	}
	return mock
}

// NewFailingProvider creates a mock provider whose every call fails with err.
func NewFailingProvider(err error) *MockProvider {
	mock := NewMockProvider("mock-model")
	mock.ChatFunc = func(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
		return nil, err
	}
	return mock
}

func (m *MockProvider) defaultChat(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
	return &model.ChatResult{Content: "Mock response"}, nil
}

func (m *MockProvider) Chat(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]model.ChatMessage(nil), messages...))
	m.lastOptions = options
	m.mu.Unlock()

	return m.ChatFunc(ctx, messages, options)
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) GetModel() string {
	return m.currentModel
}

// Calls returns the histories passed to Chat, in call order.
func (m *MockProvider) Calls() [][]model.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]model.ChatMessage(nil), m.calls...)
}

// LastOptions returns the options of the most recent Chat call.
func (m *MockProvider) LastOptions() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOptions
}
