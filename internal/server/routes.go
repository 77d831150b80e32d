package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Crawl passes
	mux.HandleFunc("POST /api/crawl/run", s.crawlHandler.RunHandler)
	mux.HandleFunc("GET /api/crawl/status", s.crawlHandler.StatusHandler)

	// Connection lifecycle
	mux.HandleFunc("GET /api/connections", s.connectionHandler.ListHandler)
	mux.HandleFunc("POST /api/connections", s.connectionHandler.CreateHandler)
	mux.HandleFunc("GET /api/connections/{id}", s.connectionHandler.GetHandler)
	mux.HandleFunc("POST /api/connections/{id}/relink", s.connectionHandler.RelinkHandler)
	mux.HandleFunc("POST /api/connections/{id}/deactivate", s.connectionHandler.DeactivateHandler)
	mux.HandleFunc("POST /api/connections/{id}/activate", s.connectionHandler.ActivateHandler)
	mux.HandleFunc("POST /api/connections/{id}/reset", s.connectionHandler.ResetHandler)
	mux.HandleFunc("GET /api/connections/{id}/audit", s.connectionHandler.AuditHandler)
	mux.HandleFunc("GET /api/connections/{id}/records", s.connectionHandler.RecordsHandler)

	// System
	mux.HandleFunc("GET /api/version", s.apiHandler.VersionHandler)
	mux.HandleFunc("GET /api/health", s.apiHandler.HealthHandler)

	mux.HandleFunc("/", s.apiHandler.NotFoundHandler)

	return mux
}
