package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// LeaseStorage implements interfaces.LeaseStorage on raw badger keys.
// Acquire is a conditional write inside one transaction; badger's conflict
// detection makes concurrent acquirers race safely.
type LeaseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewLeaseStorage creates a new LeaseStorage instance
func NewLeaseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LeaseStorage {
	return &LeaseStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func leaseKey(connectionID string) []byte {
	return []byte("lease:" + connectionID)
}

func (s *LeaseStorage) Acquire(ctx context.Context, connectionID, holder string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lease ttl must be positive")
	}

	acquired := false
	err := s.db.update(func(txn *badger.Txn) error {
		acquired = false
		now := s.now()

		current, err := readLease(txn, connectionID)
		if err != nil {
			return err
		}
		if current != nil && !current.Expired(now) && current.Holder != holder {
			return nil
		}

		lease := models.Lease{
			ConnectionID: connectionID,
			Holder:       holder,
			AcquiredAt:   now,
			ExpiresAt:    now.Add(ttl),
		}
		data, err := json.Marshal(lease)
		if err != nil {
			return err
		}
		if err := txn.Set(leaseKey(connectionID), data); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return acquired, nil
}

func (s *LeaseStorage) Release(ctx context.Context, connectionID, holder string) error {
	err := s.db.update(func(txn *badger.Txn) error {
		current, err := readLease(txn, connectionID)
		if err != nil || current == nil {
			return err
		}
		if current.Holder != holder {
			s.logger.Debug().
				Str("connection_id", connectionID).
				Str("holder", holder).
				Msg("Lease owned by another holder, not releasing")
			return nil
		}
		return txn.Delete(leaseKey(connectionID))
	})
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func readLease(txn *badger.Txn, connectionID string) (*models.Lease, error) {
	item, err := txn.Get(leaseKey(connectionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lease models.Lease
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &lease)
	}); err != nil {
		return nil, err
	}
	return &lease, nil
}
