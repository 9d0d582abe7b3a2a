package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/model"
	"chatrelay/provider/testutil"
)

func TestGeminiProviderChat(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "g-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Hello "}, {"text": "world"}]}}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
		}`))
	}))
	defer server.Close()

	p, err := NewGeminiProvider(Config{
		BaseURL: server.URL,
		Model:   "gemini-1.5-flash",
		APIKey:  "g-key",
		Extra:   map[string]any{"temperature": 0.5, "foo": 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.Chat(context.Background(), testutil.TestMessages(), nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if result.Content != "Hello world" {
		t.Errorf("Content = %q", result.Content)
	}
	if result.Usage["prompt_tokens"] != int64(4) ||
		result.Usage["completion_tokens"] != int64(2) ||
		result.Usage["total_tokens"] != int64(6) {
		t.Errorf("Usage = %v", result.Usage)
	}

	genCfg, _ := received["generationConfig"].(map[string]any)
	if len(genCfg) != 1 || genCfg["temperature"] != 0.5 {
		t.Errorf("generationConfig = %v, want only temperature", genCfg)
	}

	contents, _ := received["contents"].([]any)
	wantRoles := []string{"user", "user", "model", "user"}
	if len(contents) != len(wantRoles) {
		t.Fatalf("sent %d contents, want %d", len(contents), len(wantRoles))
	}
	for i, c := range contents {
		entry, _ := c.(map[string]any)
		if entry["role"] != wantRoles[i] {
			t.Errorf("content %d role = %v, want %s", i, entry["role"], wantRoles[i])
		}
	}
}

func TestGeminiProviderOmitsEmptyGenerationConfig(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p, _ := NewGeminiProvider(Config{BaseURL: server.URL + "/v1beta", Model: "gemini-1.5-flash", APIKey: "k"})
	result, err := p.Chat(context.Background(), testutil.SingleUserMessage("hi"), map[string]any{"seed": 3})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if _, ok := received["generationConfig"]; ok {
		t.Errorf("generationConfig present: %v", received["generationConfig"])
	}
	if result.Content != "" {
		t.Errorf("Content = %q, want empty", result.Content)
	}
	if result.Usage["total_tokens"] != nil {
		t.Errorf("total_tokens = %v, want nil", result.Usage["total_tokens"])
	}
}

func TestGeminiProviderTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"message": "API key not valid"}}`))
	}))
	defer server.Close()

	p, _ := NewGeminiProvider(Config{BaseURL: server.URL, Model: "gemini-1.5-flash", APIKey: "bad"})
	_, err := p.Chat(context.Background(), testutil.SingleUserMessage("hi"), nil)

	var transportErr *model.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *model.TransportError, got %v", err)
	}
	if transportErr.Provider != "gemini" {
		t.Errorf("Provider = %q", transportErr.Provider)
	}
}

func TestGeminiProviderConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p, _ := NewGeminiProvider(Config{BaseURL: url, Model: "gemini-1.5-flash", APIKey: "k"})
	_, err := p.Chat(context.Background(), testutil.SingleUserMessage("hi"), nil)

	var transportErr *model.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *model.TransportError, got %v", err)
	}
}

func TestGeminiEndpoint(t *testing.T) {
	p, _ := NewGeminiProvider(Config{Model: "gemini-1.5-flash", APIKey: "k"})
	want := DefaultGeminiBaseURL + "/v1beta/models/gemini-1.5-flash:generateContent?key=k"
	if got := p.endpoint(); got != want {
		t.Errorf("endpoint() = %q, want %q", got, want)
	}
}
