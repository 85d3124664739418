// Package server exposes the HTTP API. Handlers are thin adapters over the
// ingest pipeline, the query engine, and the collection manager; all state
// lives behind those.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/collection"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/search"
)

// Server is the HTTP front of the service.
type Server struct {
	collections *collection.Manager
	pipeline    *ingest.Pipeline
	engine      *search.Engine
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
}

// NewServer wires the server with its dependencies.
func NewServer(
	collections *collection.Manager,
	pipeline *ingest.Pipeline,
	engine *search.Engine,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		collections: collections,
		pipeline:    pipeline,
		engine:      engine,
		config:      cfg,
		logger:      logger,
	}
}

// Handler builds the route table. Exposed so tests can drive the server
// without a listening socket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(s.config.TimeoutSeconds) * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Get("/collections", s.handleListCollections)
	r.Route("/collections/{name}", func(r chi.Router) {
		r.Delete("/", s.handleDeleteCollection)
		r.Post("/documents", s.handleIngest)
		r.Delete("/documents", s.handleDeleteByFilter)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/query", s.handleQuery)
		r.Get("/sources", s.handleSources)
		r.Post("/upload", s.handleUpload)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop drains in-flight requests and shuts the listener down. Flushing the
// collections is the caller's job, after Stop returns.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
