// Package server provides the HTTP API for Passage.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/passagehq/passage/internal/config"
	"github.com/passagehq/passage/internal/ingest"
	"github.com/passagehq/passage/internal/rag"
	"github.com/passagehq/passage/internal/registry"
)

// Server is the HTTP server for the Passage API.
type Server struct {
	service  *rag.Service
	pipeline *ingest.Pipeline
	registry *registry.Registry
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	service *rag.Service,
	pipeline *ingest.Pipeline,
	reg *registry.Registry,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		service:  service,
		pipeline: pipeline,
		registry: reg,
		config:   cfg,
		logger:   logger,
	}
}

// Router assembles the chi router with all API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/query", s.handleQuery)
	r.Post("/api/v1/documents", s.handleIngestDocument)
	r.Get("/api/v1/documents", s.handleListDocuments)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
	r.Post("/api/v1/clear", s.handleClear)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
