package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"chatrelay/model"
	"chatrelay/storage"

	"github.com/gofiber/fiber/v2"
)

type llmResponse struct {
	ID       int64              `json:"id"`
	Name     string             `json:"name"`
	Provider model.ProviderKind `json:"provider"`
	BaseURL  string             `json:"base_url"`
	Model    string             `json:"model"`
	Extra    map[string]any     `json:"extra"`
	IsActive bool               `json:"is_active"`
}

func toLLMResponse(cfg model.LLMConfig) llmResponse {
	extra := cfg.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	return llmResponse{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Extra:    extra,
		IsActive: cfg.IsActive,
	}
}

// llmRequest is the create/update body. APIKey is write-only.
type llmRequest struct {
	Name     string         `json:"name"`
	Provider string         `json:"provider"`
	BaseURL  string         `json:"base_url"`
	Model    string         `json:"model"`
	APIKey   *string        `json:"api_key"`
	Extra    map[string]any `json:"extra"`
	IsActive *bool          `json:"is_active"`
}

// apply copies the request onto cfg. A nil APIKey keeps the stored key.
func (r llmRequest) apply(cfg *model.LLMConfig) error {
	kind, err := model.ParseProviderKind(r.Provider)
	if err != nil {
		return invalid("%v", err)
	}

	cfg.Name = strings.TrimSpace(r.Name)
	cfg.Provider = kind
	cfg.BaseURL = strings.TrimSpace(r.BaseURL)
	cfg.Model = strings.TrimSpace(r.Model)
	cfg.Extra = r.Extra
	if r.APIKey != nil {
		cfg.APIKey = *r.APIKey
	}
	cfg.IsActive = r.IsActive == nil || *r.IsActive

	if err := cfg.Validate(); err != nil {
		var cfgErr *model.ConfigurationError
		if errors.As(err, &cfgErr) {
			return err
		}
		return invalid("%v", err)
	}
	return nil
}

type sessionRequest struct {
	LLM   int64  `json:"llm"`
	Title string `json:"title"`
}

type sessionResponse struct {
	ID        string    `json:"uuid"`
	LLM       int64     `json:"llm"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSessionResponse(s model.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		LLM:       s.LLMID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type messageResponse struct {
	ID        int64      `json:"id"`
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

type chatRequest struct {
	Message string         `json:"message"`
	Options map[string]any `json:"options"`
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return invalid("invalid request body: %v", err)
	}
	return nil
}

func llmID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, &model.NotFoundError{Resource: "llm", ID: c.Params("id")}
	}
	return id, nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleListLLMs(c *fiber.Ctx) error {
	configs, err := s.store.ListLLMConfigs(c.UserContext())
	if err != nil {
		return err
	}

	result := make([]llmResponse, len(configs))
	for i, cfg := range configs {
		result[i] = toLLMResponse(cfg)
	}
	return c.JSON(result)
}

func (s *Server) handleCreateLLM(c *fiber.Ctx) error {
	var req llmRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	var cfg model.LLMConfig
	if err := req.apply(&cfg); err != nil {
		return err
	}
	if err := s.store.CreateLLMConfig(c.UserContext(), &cfg); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toLLMResponse(cfg))
}

func (s *Server) handleGetLLM(c *fiber.Ctx) error {
	id, err := llmID(c)
	if err != nil {
		return err
	}

	cfg, err := s.store.GetLLMConfig(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toLLMResponse(*cfg))
}

func (s *Server) handleUpdateLLM(c *fiber.Ctx) error {
	id, err := llmID(c)
	if err != nil {
		return err
	}

	var req llmRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	cfg, err := s.store.GetLLMConfig(c.UserContext(), id)
	if err != nil {
		return err
	}
	if err := req.apply(cfg); err != nil {
		return err
	}
	if err := s.store.UpdateLLMConfig(c.UserContext(), cfg); err != nil {
		return err
	}

	return c.JSON(toLLMResponse(*cfg))
}

func (s *Server) handleDeleteLLM(c *fiber.Ctx) error {
	id, err := llmID(c)
	if err != nil {
		return err
	}

	if err := s.store.DeleteLLMConfig(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	sessions, err := s.store.ListSessions(c.UserContext())
	if err != nil {
		return err
	}

	sessions = storage.FilterSessions(sessions, c.Query("q"))

	result := make([]sessionResponse, len(sessions))
	for i, session := range sessions {
		result[i] = toSessionResponse(session)
	}
	return c.JSON(result)
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req sessionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.LLM == 0 {
		return invalid("llm is required")
	}

	session := &model.Session{
		LLMID:    req.LLM,
		Title:    strings.TrimSpace(req.Title),
		IsActive: true,
	}
	if err := s.store.CreateSession(c.UserContext(), session); err != nil {
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			return invalid("llm %d does not exist", req.LLM)
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toSessionResponse(*session))
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	session, err := s.store.GetActiveSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toSessionResponse(*session))
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if err := s.store.DeleteSession(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListMessages(c *fiber.Ctx) error {
	ctx := c.UserContext()

	session, err := s.store.GetActiveSession(ctx, c.Params("id"))
	if err != nil {
		return err
	}

	messages, err := s.store.ListMessages(ctx, session.ID)
	if err != nil {
		return err
	}

	result := make([]messageResponse, len(messages))
	for i, msg := range messages {
		result[i] = messageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
	}
	return c.JSON(result)
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return invalid("message is required")
	}

	result, err := s.chat.Run(c.UserContext(), c.Params("id"), message, req.Options)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	matches, err := s.store.SearchMessages(c.UserContext(), c.Query("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(matches)
}

func (s *Server) handleListModels(c *fiber.Ctx) error {
	if s.models == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no ollama host configured")
	}

	models, err := s.models.ListModels(c.UserContext())
	if err != nil {
		return model.NewTransportError("ollama", err)
	}

	result := make([]fiber.Map, len(models))
	for i, m := range models {
		result[i] = fiber.Map{"name": m.Name, "size": m.Size}
	}
	return c.JSON(result)
}
