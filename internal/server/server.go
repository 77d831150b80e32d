package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/harvester/internal/app"
	"github.com/ternarybob/harvester/internal/handlers"
)

// Server manages the admin HTTP server and routes
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server

	apiHandler        *handlers.APIHandler
	crawlHandler      *handlers.CrawlHandler
	connectionHandler *handlers.ConnectionHandler
}

// New creates a new HTTP server with the given app. ctx bounds crawl passes
// started through the API.
func New(ctx context.Context, application *app.App) *Server {
	s := &Server{
		app:               application,
		apiHandler:        handlers.NewAPIHandler(application.Logger),
		crawlHandler:      handlers.NewCrawlHandler(ctx, application.Scheduler, application.RunOptions(), application.Logger),
		connectionHandler: handlers.NewConnectionHandler(application.Connections, application.Audit, application.Logger),
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // wait=true crawl passes
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
