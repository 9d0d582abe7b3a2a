package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/provider/testutil"
)

func TestAnthropicProviderChat(t *testing.T) {
	var received map[string]any
	var apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		apiKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "Brief."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`))
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(Config{
		BaseURL: server.URL,
		Model:   "claude-sonnet-4-5",
		APIKey:  "ak-test",
		Extra:   map[string]any{"temperature": 0.2},
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.Chat(context.Background(), testutil.TestMessages(), map[string]any{"max_tokens": 512})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if result.Content != "Brief." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.Usage["prompt_tokens"] != int64(10) ||
		result.Usage["completion_tokens"] != int64(3) ||
		result.Usage["total_tokens"] != int64(13) {
		t.Errorf("Usage = %v", result.Usage)
	}

	if apiKey != "ak-test" {
		t.Errorf("X-Api-Key = %q", apiKey)
	}
	if received["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v", received["max_tokens"])
	}
	if received["temperature"] != 0.2 {
		t.Errorf("temperature = %v", received["temperature"])
	}
	system, _ := received["system"].([]any)
	if len(system) != 1 {
		t.Errorf("system = %v, want one block", received["system"])
	}
	messages, _ := received["messages"].([]any)
	if len(messages) != 3 {
		t.Errorf("sent %d messages, want 3", len(messages))
	}
}
