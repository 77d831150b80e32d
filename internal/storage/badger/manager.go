package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	connection interfaces.ConnectionStorage
	record     interfaces.RecordStorage
	auditLog   interfaces.AuditLogStorage
	lease      interfaces.LeaseStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		connection: NewConnectionStorage(db, logger),
		record:     NewRecordStorage(db, logger),
		auditLog:   NewAuditLogStorage(db, logger),
		lease:      NewLeaseStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

func (m *Manager) ConnectionStorage() interfaces.ConnectionStorage {
	return m.connection
}

func (m *Manager) RecordStorage() interfaces.RecordStorage {
	return m.record
}

func (m *Manager) AuditLogStorage() interfaces.AuditLogStorage {
	return m.auditLog
}

// LeaseStorage returns the process-local lease storage
func (m *Manager) LeaseStorage() interfaces.LeaseStorage {
	return m.lease
}

// DB returns the underlying database connection
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
