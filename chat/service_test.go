package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatrelay/model"
	"chatrelay/provider/testutil"
	"chatrelay/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store storage.Store, llm model.LLMConfig) *model.Session {
	t.Helper()
	ctx := context.Background()

	if err := store.CreateLLMConfig(ctx, &llm); err != nil {
		t.Fatal(err)
	}
	session := &model.Session{LLMID: llm.ID, IsActive: true}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatal(err)
	}
	return session
}

func builderFor(p model.Provider) ClientBuilder {
	return func(model.LLMConfig) (model.Provider, error) {
		return p, nil
	}
}

func TestRunEndToEnd(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, testutil.LocalLLM())

	mock := testutil.NewStaticProvider("Hello from mock", map[string]any{"prompt_tokens": 1})
	svc := NewService(store, builderFor(mock))

	result, err := svc.Run(context.Background(), session.ID, "Hi", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.SessionID != session.ID {
		t.Errorf("SessionID = %q", result.SessionID)
	}
	if result.AssistantMessage.Content != "Hello from mock" {
		t.Errorf("assistant content = %q", result.AssistantMessage.Content)
	}
	if result.AssistantMessage.Role != model.RoleAssistant || result.AssistantMessage.ID == 0 {
		t.Errorf("assistant message = %+v", result.AssistantMessage)
	}
	if result.Usage["prompt_tokens"] != 1 {
		t.Errorf("usage = %v", result.Usage)
	}

	messages, err := store.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(messages))
	}
	if messages[0].Role != model.RoleUser || messages[0].Content != "Hi" {
		t.Errorf("first message = %+v", messages[0])
	}
	last := messages[1]
	if last.Role != model.RoleAssistant || last.Content != "Hello from mock" {
		t.Errorf("last message = %+v", last)
	}
	if last.Usage["prompt_tokens"] != float64(1) {
		t.Errorf("stored usage = %v", last.Usage)
	}
}

func TestRunSendsFullHistory(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, testutil.LocalLLM())

	mock := testutil.NewMockProvider("llama3")
	svc := NewService(store, builderFor(mock))
	ctx := context.Background()

	if _, err := svc.Run(ctx, session.ID, "one", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Run(ctx, session.ID, "two", map[string]any{"temperature": 0.1}); err != nil {
		t.Fatal(err)
	}

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("provider called %d times", len(calls))
	}

	want := []model.ChatMessage{
		{Role: model.RoleUser, Content: "one"},
		{Role: model.RoleAssistant, Content: "Mock response"},
		{Role: model.RoleUser, Content: "two"},
	}
	second := calls[1]
	if len(second) != len(want) {
		t.Fatalf("second call history has %d turns, want %d", len(second), len(want))
	}
	for i := range want {
		if second[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, second[i], want[i])
		}
	}

	if mock.LastOptions()["temperature"] != 0.1 {
		t.Errorf("options not forwarded: %v", mock.LastOptions())
	}

	messages, _ := store.ListMessages(ctx, session.ID)
	if len(messages) != 4 {
		t.Errorf("persisted %d messages, want 4", len(messages))
	}
}

func TestRunTransportErrorPersistsNothing(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, testutil.LocalLLM())

	cause := errors.New("connection refused")
	mock := testutil.NewFailingProvider(model.NewTransportError("ollama", cause))
	svc := NewService(store, builderFor(mock))

	_, err := svc.Run(context.Background(), session.ID, "Hi", nil)

	var transportErr *model.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *model.TransportError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("transport error lost its cause")
	}

	messages, _ := store.ListMessages(context.Background(), session.ID)
	if len(messages) != 0 {
		t.Errorf("transport failure left %d messages", len(messages))
	}
}

func TestRunConfigurationErrorPropagates(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, testutil.LocalLLM())

	cfgErr := &model.ConfigurationError{Provider: model.ProviderOpenAI, Reason: "api_key is required"}
	svc := NewService(store, func(model.LLMConfig) (model.Provider, error) {
		return nil, cfgErr
	})

	_, err := svc.Run(context.Background(), session.ID, "Hi", nil)
	if err != cfgErr {
		t.Fatalf("Run() error = %v, want the builder's error unchanged", err)
	}

	messages, _ := store.ListMessages(context.Background(), session.ID)
	if len(messages) != 0 {
		t.Errorf("configuration failure left %d messages", len(messages))
	}
}

func TestRunUnknownOrInactiveSession(t *testing.T) {
	store := newTestStore(t)
	active := seedSession(t, store, testutil.LocalLLM())

	inactive := &model.Session{LLMID: active.LLMID, IsActive: false}
	if err := store.CreateSession(context.Background(), inactive); err != nil {
		t.Fatal(err)
	}

	svc := NewService(store, builderFor(testutil.NewMockProvider("llama3")))

	for _, id := range []string{"does-not-exist", inactive.ID} {
		_, err := svc.Run(context.Background(), id, "Hi", nil)
		var nf *model.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Run(%q) error = %v, want NotFoundError", id, err)
		}
	}
}

func TestRunBuildsProviderFromSessionConfig(t *testing.T) {
	store := newTestStore(t)
	llm := testutil.LocalLLM()
	llm.Model = "mistral"
	session := seedSession(t, store, llm)

	var seen model.LLMConfig
	svc := NewService(store, func(cfg model.LLMConfig) (model.Provider, error) {
		seen = cfg
		return testutil.NewMockProvider(cfg.Model), nil
	})

	if _, err := svc.Run(context.Background(), session.ID, "Hi", nil); err != nil {
		t.Fatal(err)
	}
	if seen.Model != "mistral" || seen.Extra["temperature"] != 0.7 {
		t.Errorf("builder received %+v", seen)
	}
}

func TestRunNilUsageBecomesEmpty(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, testutil.LocalLLM())

	svc := NewService(store, builderFor(testutil.NewStaticProvider("ok", nil)))
	result, err := svc.Run(context.Background(), session.ID, "Hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Usage == nil {
		t.Error("Usage is nil, want empty map")
	}
}

func TestRunConcurrentSessionsQueue(t *testing.T) {
	store, err := storage.NewSQLiteStore(t.TempDir(), nil, storage.WithBusyTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	sessions := []*model.Session{
		seedSession(t, store, testutil.LocalLLM()),
		seedSession(t, store, testutil.LocalLLM()),
	}

	slow := testutil.NewMockProvider("slow")
	slow.ChatFunc = func(ctx context.Context, messages []model.ChatMessage, options map[string]any) (*model.ChatResult, error) {
		select {
		case <-time.After(300 * time.Millisecond):
			return &model.ChatResult{Content: "done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	svc := NewService(store, builderFor(slow))

	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, session := range sessions {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.Run(context.Background(), id, "Hi", nil)
		}(i, session.ID)
	}
	wg.Wait()

	for i, session := range sessions {
		if errs[i] != nil {
			t.Errorf("Run(session %d) error = %v", i, errs[i])
			continue
		}
		messages, err := store.ListMessages(context.Background(), session.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(messages) != 2 {
			t.Errorf("session %d has %d messages, want 2", i, len(messages))
		}
	}
}
