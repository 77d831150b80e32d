package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/connections"
)

// ConnectionHandler exposes connection lifecycle operations
type ConnectionHandler struct {
	connections ConnectionManager
	audit       AuditReader
	logger      arbor.ILogger
}

func NewConnectionHandler(connections ConnectionManager, audit AuditReader, logger arbor.ILogger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		audit:       audit,
		logger:      logger,
	}
}

// CreateHandler links a new connection
func (h *ConnectionHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req connections.LinkRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	conn, err := h.connections.Link(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	status, err := h.connections.Describe(r.Context(), conn.ID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, status)
}

// ListHandler lists connections, filtered by tenant_id, platform (repeatable) and active
func (h *ConnectionHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := &models.ConnectionFilter{
		TenantID:   query.Get("tenant_id"),
		ActiveOnly: strings.EqualFold(query.Get("active"), "true"),
	}
	for _, p := range query["platform"] {
		filter.Platforms = append(filter.Platforms, models.Platform(p))
	}

	conns, err := h.connections.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
		"count":       len(conns),
	})
}

func (h *ConnectionHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.connections.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// RelinkHandler replaces credentials; the body is a models.Credentials object
func (h *ConnectionHandler) RelinkHandler(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := DecodeJSON(w, r, &creds); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.connections.Relink(r.Context(), r.PathValue("id"), creds); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Connection relinked")
}

func (h *ConnectionHandler) DeactivateHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Connection deactivated")
}

func (h *ConnectionHandler) ActivateHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.Activate(r.Context(), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Connection activated")
}

// ResetHandler clears the error count after a confirmed healthy cycle
func (h *ConnectionHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.ResetHealth(r.Context(), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Connection health reset")
}

// RecordsHandler lists a connection's harvested records, newest first
func (h *ConnectionHandler) RecordsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.connections.Records(r.Context(), r.PathValue("id"), QueryInt(r, "limit", 100))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// AuditHandler lists a connection's runs, newest first
func (h *ConnectionHandler) AuditHandler(w http.ResponseWriter, r *http.Request) {
	filter := &models.AuditLogFilter{
		ConnectionID: r.PathValue("id"),
		Status:       models.AuditStatus(r.URL.Query().Get("status")),
		Limit:        QueryInt(r, "limit", 50),
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
