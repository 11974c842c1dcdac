// Package server exposes the HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/config"
	"github.com/fieldwise/kura/internal/ingest"
	"github.com/fieldwise/kura/internal/llm"
	"github.com/fieldwise/kura/internal/search"
	"github.com/fieldwise/kura/internal/storage"
)

// Server is the HTTP front end over the ingest engine and the retrieval
// pipeline.
type Server struct {
	engine    *ingest.Engine
	retriever *search.Retriever
	ask       *llm.AskService
	store     storage.Storage
	cfg       *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server. ask may be nil when no answer model is
// configured; the ask endpoint then responds 501.
func NewServer(
	engine *ingest.Engine,
	retriever *search.Retriever,
	ask *llm.AskService,
	store storage.Storage,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:    engine,
		retriever: retriever,
		ask:       ask,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start runs the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ask", s.handleAsk)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/ingest", s.handleIngest)
	r.Post("/api/v1/reload", s.handleReload)
	r.Delete("/api/v1/documents", s.handleDeleteDocument)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/ask", s.handleAsk)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/ingest", s.handleIngest)
	r.Post("/api/v1/reload", s.handleReload)
	r.Delete("/api/v1/documents", s.handleDeleteDocument)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
