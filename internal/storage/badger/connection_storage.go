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

// ConnectionStorage implements interfaces.ConnectionStorage for Badger
type ConnectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConnectionStorage creates a new ConnectionStorage instance
func NewConnectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ConnectionStorage {
	return &ConnectionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ConnectionStorage) SaveConnection(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		return fmt.Errorf("connection ID is required")
	}

	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	if err := s.db.Store().Upsert(conn.ID, conn); err != nil {
		return &models.PersistenceError{Op: "save", Entity: "connection", Err: err}
	}
	return nil
}

func (s *ConnectionStorage) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	var conn models.Connection
	if err := s.db.Store().Get(id, &conn); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrConnectionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// ListConnections applies tenant, active and platform predicates in the query and
// the ID and LastSyncAt predicates in memory. Results are ordered by CreatedAt.
func (s *ConnectionStorage) ListConnections(ctx context.Context, filter *models.ConnectionFilter) ([]*models.Connection, error) {
	if filter == nil {
		filter = &models.ConnectionFilter{}
	}

	var query *badgerhold.Query
	and := func(field string) *badgerhold.Criterion {
		if query == nil {
			return badgerhold.Where(field)
		}
		return query.And(field)
	}

	if filter.TenantID != "" {
		query = and("TenantID").Eq(filter.TenantID)
	}
	if filter.ActiveOnly {
		query = and("IsActive").Eq(true)
	}
	if len(filter.Platforms) > 0 {
		values := make([]interface{}, len(filter.Platforms))
		for i, p := range filter.Platforms {
			values[i] = p
		}
		query = and("Platform").In(values...)
	}
	if query == nil {
		query = &badgerhold.Query{}
	}
	query = query.SortBy("CreatedAt")

	var conns []models.Connection
	if err := s.db.Store().Find(&conns, query); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	var ids map[string]struct{}
	if len(filter.IDs) > 0 {
		ids = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = struct{}{}
		}
	}

	result := make([]*models.Connection, 0, len(conns))
	for i := range conns {
		conn := &conns[i]
		if ids != nil {
			if _, ok := ids[conn.ID]; !ok {
				continue
			}
		}
		if filter.SyncedBefore != nil && conn.LastSyncAt != nil && !conn.LastSyncAt.Before(*filter.SyncedBefore) {
			continue
		}
		result = append(result, conn)
	}
	return result, nil
}

// modify loads a connection, applies fn and writes it back in one transaction
func (s *ConnectionStorage) modify(id string, op string, fn func(conn *models.Connection)) (*models.Connection, error) {
	var updated models.Connection
	err := s.db.update(func(txn *badger.Txn) error {
		var conn models.Connection
		if err := s.db.Store().TxGet(txn, id, &conn); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", models.ErrConnectionNotFound, id)
			}
			return err
		}

		fn(&conn)
		conn.UpdatedAt = time.Now()

		if err := s.db.Store().TxUpsert(txn, id, &conn); err != nil {
			return err
		}
		updated = conn
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrConnectionNotFound) {
			return nil, err
		}
		return nil, &models.PersistenceError{Op: op, Entity: "connection", Err: err}
	}
	return &updated, nil
}

// UpdateSession replaces the stored session wholesale; an empty blob clears it
func (s *ConnectionStorage) UpdateSession(ctx context.Context, id string, encryptedCookies string, expiresAt *time.Time) error {
	_, err := s.modify(id, "update_session", func(conn *models.Connection) {
		conn.EncryptedSessionCookies = encryptedCookies
		conn.SessionExpiresAt = expiresAt
		if encryptedCookies == "" {
			conn.SessionExpiresAt = nil
		}
	})
	return err
}

// ReplaceCredentials swaps the credentials and drops the session they produced
func (s *ConnectionStorage) ReplaceCredentials(ctx context.Context, id string, encryptedCredentials string) error {
	_, err := s.modify(id, "replace_credentials", func(conn *models.Connection) {
		conn.EncryptedCredentials = encryptedCredentials
		conn.EncryptedSessionCookies = ""
		conn.SessionExpiresAt = nil
	})
	return err
}

func (s *ConnectionStorage) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.modify(id, "set_active", func(conn *models.Connection) {
		conn.IsActive = active
	})
	return err
}

// RecordSuccess stamps LastSyncAt. ErrorCount is left alone; only ResetHealth clears it.
func (s *ConnectionStorage) RecordSuccess(ctx context.Context, id string, syncedAt time.Time) error {
	_, err := s.modify(id, "record_success", func(conn *models.Connection) {
		t := syncedAt
		conn.LastSyncAt = &t
	})
	return err
}

func (s *ConnectionStorage) RecordFailure(ctx context.Context, id string, message string, deactivateAfter int) (*models.Connection, error) {
	conn, err := s.modify(id, "record_failure", func(conn *models.Connection) {
		conn.ErrorCount++
		conn.LastError = message
		if deactivateAfter > 0 && conn.ErrorCount >= deactivateAfter {
			conn.IsActive = false
		}
	})
	if err != nil {
		return nil, err
	}

	if !conn.IsActive && deactivateAfter > 0 && conn.ErrorCount >= deactivateAfter {
		s.logger.Warn().
			Str("connection_id", id).
			Int("error_count", conn.ErrorCount).
			Msg("Connection deactivated after repeated failures")
	}
	return conn, nil
}

func (s *ConnectionStorage) ResetHealth(ctx context.Context, id string) error {
	_, err := s.modify(id, "reset_health", func(conn *models.Connection) {
		conn.ErrorCount = 0
		conn.LastError = ""
	})
	return err
}
