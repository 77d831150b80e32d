package handlers

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/connections"
)

// CrawlRunner runs and reports crawl passes
type CrawlRunner interface {
	RunAll(ctx context.Context, opts models.RunOptions) (*models.RunSummary, error)
	LastSummary() *models.RunSummary
	IsProcessing() bool
}

// ConnectionManager is the connection lifecycle surface exposed over HTTP
type ConnectionManager interface {
	Link(ctx context.Context, req connections.LinkRequest) (*models.Connection, error)
	Relink(ctx context.Context, id string, creds models.Credentials) error
	Deactivate(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) error
	ResetHealth(ctx context.Context, id string) error
	Describe(ctx context.Context, id string) (*connections.Status, error)
	Records(ctx context.Context, id string, limit int) ([]*models.ExtractedRecord, error)
	List(ctx context.Context, filter *models.ConnectionFilter) ([]*models.Connection, error)
}

// AuditReader lists audit log entries
type AuditReader interface {
	List(ctx context.Context, filter *models.AuditLogFilter) ([]*models.AuditLogEntry, error)
}
