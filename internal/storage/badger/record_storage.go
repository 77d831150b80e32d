package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RecordStorage implements interfaces.RecordStorage for Badger.
// Records are keyed by (ConnectionID, ExternalID), which is also the conflict key.
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

// InsertNew inserts each record in its own transaction; badgerhold's ErrKeyExists marks
// a record that is already stored, including one inserted concurrently by another run.
func (s *RecordStorage) InsertNew(ctx context.Context, records []*models.ExtractedRecord) ([]*models.ExtractedRecord, error) {
	inserted := make([]*models.ExtractedRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, record := range records {
		if record == nil || record.ExternalID == "" || record.ConnectionID == "" {
			continue
		}

		key := models.RecordKey(record.ConnectionID, record.ExternalID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		record.ID = key

		err := s.db.update(func(txn *badger.Txn) error {
			return s.db.Store().TxInsert(txn, key, record)
		})
		switch {
		case err == nil:
			inserted = append(inserted, record)
		case errors.Is(err, badgerhold.ErrKeyExists):
			// already harvested
		default:
			return inserted, &models.PersistenceError{Op: "insert", Entity: "record", Err: err}
		}
	}

	s.logger.Debug().
		Int("offered", len(records)).
		Int("inserted", len(inserted)).
		Msg("Persisted extracted records")

	return inserted, nil
}

// ListRecords returns the newest observed records first; limit <= 0 means all
func (s *RecordStorage) ListRecords(ctx context.Context, connectionID string, limit int) ([]*models.ExtractedRecord, error) {
	query := badgerhold.Where("ConnectionID").Eq(connectionID).SortBy("ObservedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.ExtractedRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	result := make([]*models.ExtractedRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *RecordStorage) CountRecords(ctx context.Context, connectionID string) (int, error) {
	count, err := s.db.Store().Count(&models.ExtractedRecord{}, badgerhold.Where("ConnectionID").Eq(connectionID))
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}
