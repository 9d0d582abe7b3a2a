package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
)

func TestChatSendsNonStreamingRequest(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"hi"},"done":true,"eval_count":7}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "llama3", server.Client())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Chat(context.Background(),
		[]api.Message{{Role: "user", Content: "hello"}},
		map[string]any{"temperature": 0.2},
	)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if resp.Message.Content != "hi" {
		t.Errorf("content = %q, want hi", resp.Message.Content)
	}
	if resp.EvalCount != 7 {
		t.Errorf("eval_count = %d, want 7", resp.EvalCount)
	}

	if received["model"] != "llama3" {
		t.Errorf("model = %v", received["model"])
	}
	if received["stream"] != false {
		t.Errorf("stream = %v, want false", received["stream"])
	}
	options, _ := received["options"].(map[string]any)
	if options["temperature"] != 0.2 {
		t.Errorf("options = %v", received["options"])
	}
}

func TestChatReturnsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "nope", server.Client())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Chat(context.Background(), []api.Message{{Role: "user", Content: "x"}}, nil); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestNewClientDefaultsHost(t *testing.T) {
	client, err := NewClient("", "llama3", nil)
	if err != nil {
		t.Fatal(err)
	}
	if client.BaseURL() != DefaultHost {
		t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), DefaultHost)
	}
	if client.GetModel() != "llama3" {
		t.Errorf("GetModel() = %q", client.GetModel())
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","size":4661224676},{"name":"qwen2:7b","size":12}]}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", server.Client())
	if err != nil {
		t.Fatal(err)
	}

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0].Name != "llama3:latest" || models[0].Size != 4661224676 {
		t.Errorf("models = %+v", models)
	}

	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestPingUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(url, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Ping(context.Background()); err == nil {
		t.Error("Ping() succeeded against a closed server")
	}
}
