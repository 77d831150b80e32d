package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/harvester/internal/models"
)

// ConnectionStorage - persistence for connections and their health/session columns
type ConnectionStorage interface {
	SaveConnection(ctx context.Context, conn *models.Connection) error
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	ListConnections(ctx context.Context, filter *models.ConnectionFilter) ([]*models.Connection, error)

	// Column updates - each runs in its own transaction
	UpdateSession(ctx context.Context, id string, encryptedCookies string, expiresAt *time.Time) error
	// ReplaceCredentials swaps the credential blob and clears the cached session in one transaction
	ReplaceCredentials(ctx context.Context, id string, encryptedCredentials string) error
	SetActive(ctx context.Context, id string, active bool) error

	// Health operations
	RecordSuccess(ctx context.Context, id string, syncedAt time.Time) error
	// RecordFailure increments ErrorCount by exactly one and sets LastError.
	// When deactivateAfter > 0 and the new count reaches it, the connection is deactivated.
	RecordFailure(ctx context.Context, id string, message string, deactivateAfter int) (*models.Connection, error)
	ResetHealth(ctx context.Context, id string) error
}

// RecordStorage - persistence for extracted records, deduplicated by (connection, external id)
type RecordStorage interface {
	// InsertNew inserts records whose (ConnectionID, ExternalID) is not yet stored and
	// ignores the rest. Conflicts are resolved by the store, not by a prior existence check.
	// Returns the records actually inserted; on error the returned slice holds what was
	// inserted before the failure.
	InsertNew(ctx context.Context, records []*models.ExtractedRecord) ([]*models.ExtractedRecord, error)
	ListRecords(ctx context.Context, connectionID string, limit int) ([]*models.ExtractedRecord, error)
	CountRecords(ctx context.Context, connectionID string) (int, error)
}

// AuditLogStorage - persistence for pipeline run audit rows
type AuditLogStorage interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLogEntry) error
	// FinalizeAuditLog applies the terminal outcome once; a second call returns ErrAuditLogFinalized
	FinalizeAuditLog(ctx context.Context, id string, outcome models.AuditOutcome, completedAt time.Time) error
	GetAuditLog(ctx context.Context, id string) (*models.AuditLogEntry, error)
	ListAuditLogs(ctx context.Context, filter *models.AuditLogFilter) ([]*models.AuditLogEntry, error)
}

// LeaseStorage - time-bounded per-connection exclusivity
type LeaseStorage interface {
	// Acquire atomically takes the lease when it is free or expired. Returns false if
	// another holder owns an unexpired lease.
	Acquire(ctx context.Context, connectionID, holder string, ttl time.Duration) (bool, error)
	// Release drops the lease only if holder still owns it
	Release(ctx context.Context, connectionID, holder string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	ConnectionStorage() ConnectionStorage
	RecordStorage() RecordStorage
	AuditLogStorage() AuditLogStorage
	LeaseStorage() LeaseStorage
	Close() error
}
