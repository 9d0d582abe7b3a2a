// Package chat runs a single chat turn: it appends the user's message to a
// session, relays the whole conversation to the session's provider and
// stores the reply.
package chat

import (
	"context"
	"time"

	"chatrelay/config"
	"chatrelay/model"
	"chatrelay/storage"
)

// ClientBuilder turns a stored LLM configuration into a provider.
// provider.Defaults.Builder returns the production implementation.
type ClientBuilder func(llm model.LLMConfig) (model.Provider, error)

// Service orchestrates chat turns against a Store.
type Service struct {
	store storage.Store
	build ClientBuilder
}

// NewService creates a new chat service with the specified dependencies.
func NewService(store storage.Store, build ClientBuilder) *Service {
	return &Service{
		store: store,
		build: build,
	}
}

// Run performs one chat turn for sessionID.
//
// The user message, the provider call and the assistant message share one
// transaction: when any step fails, neither message is persisted. Errors
// from the lookup (*model.NotFoundError), provider construction
// (*model.ConfigurationError) and the provider call (*model.TransportError)
// are returned unchanged.
func (s *Service) Run(ctx context.Context, sessionID, userText string, options map[string]any) (*model.TurnResult, error) {
	var result *model.TurnResult

	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		session, err := tx.GetActiveSession(ctx, sessionID)
		if err != nil {
			return err
		}

		userMsg := &model.Message{
			SessionID: session.ID,
			Role:      model.RoleUser,
			Content:   userText,
		}
		if err := tx.AppendMessage(ctx, userMsg); err != nil {
			return err
		}

		stored, err := tx.ListMessages(ctx, session.ID)
		if err != nil {
			return err
		}
		history := model.ProjectHistory(stored)

		llm, err := tx.GetLLMConfig(ctx, session.LLMID)
		if err != nil {
			return err
		}

		client, err := s.build(*llm)
		if err != nil {
			return err
		}

		start := time.Now()
		reply, err := client.Chat(ctx, history, options)
		if err != nil {
			config.Debugf("[Chat] session=%s provider=%s failed after %s: %v", session.ID, client.Name(), time.Since(start), err)
			return err
		}
		config.Debugf("[Chat] session=%s provider=%s model=%s turns=%d took %s",
			session.ID, client.Name(), client.GetModel(), len(history), time.Since(start))

		usage := reply.Usage
		if usage == nil {
			usage = map[string]any{}
		}

		assistantMsg := &model.Message{
			SessionID: session.ID,
			Role:      model.RoleAssistant,
			Content:   reply.Content,
			Usage:     usage,
		}
		if err := tx.AppendMessage(ctx, assistantMsg); err != nil {
			return err
		}

		result = &model.TurnResult{
			SessionID: session.ID,
			AssistantMessage: model.AssistantMessage{
				ID:      assistantMsg.ID,
				Role:    assistantMsg.Role,
				Content: assistantMsg.Content,
			},
			Usage: usage,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
