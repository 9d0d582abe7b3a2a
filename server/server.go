// Package server exposes the chat service and its configuration over a JSON
// HTTP API.
package server

import (
	"context"
	"log"
	"time"

	"chatrelay/chat"
	"chatrelay/ollama"
	"chatrelay/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const defaultAddress = ":8000"

// ModelLister reports the models installed on the default Ollama host.
// *ollama.Client implements it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Options tune the HTTP layer.
type Options struct {
	// SlowRequest is the duration at or above which a request is logged as
	// slow.
	SlowRequest time.Duration
	// Logger receives slow-request and failure lines. Defaults to
	// log.Default().
	Logger *log.Logger
	// DisableAccessLog turns off the per-request access log.
	DisableAccessLog bool
	// Models backs GET /api/ollama/models. The route answers 503 when nil.
	Models ModelLister
}

// Server represents the HTTP API server
type Server struct {
	app    *fiber.App
	store  storage.Store
	chat   *chat.Service
	models ModelLister
	log    *log.Logger
}

// New creates the server and registers every route.
func New(store storage.Store, chatService *chat.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Server{
		store:  store,
		chat:   chatService,
		models: opts.Models,
		log:    opts.Logger,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	if !opts.DisableAccessLog {
		s.app.Use(logger.New())
	}
	s.app.Use(recover.New())
	s.app.Use(requestTiming(opts.SlowRequest, opts.Logger))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.app.Group("/api")

	api.Get("/health", s.handleHealth)

	api.Get("/llms", s.handleListLLMs)
	api.Post("/llms", s.handleCreateLLM)
	api.Get("/llms/:id", s.handleGetLLM)
	api.Put("/llms/:id", s.handleUpdateLLM)
	api.Delete("/llms/:id", s.handleDeleteLLM)

	api.Get("/sessions", s.handleListSessions)
	api.Post("/sessions", s.handleCreateSession)
	api.Get("/sessions/:id", s.handleGetSession)
	api.Delete("/sessions/:id", s.handleDeleteSession)
	api.Get("/sessions/:id/messages", s.handleListMessages)
	api.Post("/sessions/:id/chat", s.handleChat)

	api.Get("/search", s.handleSearch)

	api.Get("/ollama/models", s.handleListModels)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called or the listener fails.
func (s *Server) Listen(address string) error {
	if address == "" {
		address = defaultAddress
	}
	s.log.Printf("Starting API server on %s", address)
	return s.app.Listen(address)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
