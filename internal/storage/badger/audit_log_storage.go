package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AuditLogStorage implements interfaces.AuditLogStorage for Badger
type AuditLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuditLogStorage creates a new AuditLogStorage instance
func NewAuditLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuditLogStorage {
	return &AuditLogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AuditLogStorage) CreateAuditLog(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("audit log ID is required")
	}
	if entry.Status == "" {
		entry.Status = models.AuditStatusProcessing
	}

	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return &models.PersistenceError{Op: "create", Entity: "audit_log", Err: err}
	}
	return nil
}

// FinalizeAuditLog moves a processing entry to its terminal status inside one
// transaction, so two finalizers cannot both succeed.
func (s *AuditLogStorage) FinalizeAuditLog(ctx context.Context, id string, outcome models.AuditOutcome, completedAt time.Time) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("invalid audit outcome status %q", outcome.Status)
	}

	err := s.db.update(func(txn *badger.Txn) error {
		var entry models.AuditLogEntry
		if err := s.db.Store().TxGet(txn, id, &entry); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", models.ErrAuditLogNotFound, id)
			}
			return err
		}
		if entry.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", models.ErrAuditLogFinalized, id, entry.Status)
		}

		entry.Status = outcome.Status
		entry.CompletedAt = &completedAt
		entry.CountsFound = outcome.CountsFound
		entry.CountsNew = outcome.CountsNew
		entry.DurationMs = outcome.DurationMs
		entry.ErrorMessage = outcome.ErrorMessage
		entry.Reauthenticated = outcome.Reauthenticated

		return s.db.Store().TxUpdate(txn, id, &entry)
	})
	if err != nil {
		if errors.Is(err, models.ErrAuditLogNotFound) || errors.Is(err, models.ErrAuditLogFinalized) {
			return err
		}
		return &models.PersistenceError{Op: "finalize", Entity: "audit_log", Err: err}
	}
	return nil
}

func (s *AuditLogStorage) GetAuditLog(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	if err := s.db.Store().Get(id, &entry); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrAuditLogNotFound, id)
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return &entry, nil
}

// ListAuditLogs returns entries newest first
func (s *AuditLogStorage) ListAuditLogs(ctx context.Context, filter *models.AuditLogFilter) ([]*models.AuditLogEntry, error) {
	if filter == nil {
		filter = &models.AuditLogFilter{}
	}

	var query *badgerhold.Query
	and := func(field string) *badgerhold.Criterion {
		if query == nil {
			return badgerhold.Where(field)
		}
		return query.And(field)
	}

	if filter.ConnectionID != "" {
		query = and("ConnectionID").Eq(filter.ConnectionID)
	}
	if filter.Status != "" {
		query = and("Status").Eq(filter.Status)
	}
	if filter.StartedBefore != nil {
		query = and("StartedAt").Lt(*filter.StartedBefore)
	}
	if query == nil {
		query = &badgerhold.Query{}
	}
	query = query.SortBy("StartedAt").Reverse()
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []models.AuditLogEntry
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	result := make([]*models.AuditLogEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}
