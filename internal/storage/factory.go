package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/storage/badger"
	"github.com/ternarybob/harvester/internal/storage/redis"
)

// manager composes the badger storages with an optional external lease backend
type manager struct {
	*badger.Manager
	lease *redis.LeaseStorage
}

func (m *manager) LeaseStorage() interfaces.LeaseStorage {
	return m.lease
}

func (m *manager) Close() error {
	leaseErr := m.lease.Close()
	if err := m.Manager.Close(); err != nil {
		return err
	}
	return leaseErr
}

// NewStorageManager opens badger and selects the lease backend from config.Storage.Lease
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	badgerManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	switch config.Storage.Lease.Backend {
	case "", "badger":
		return badgerManager, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client, err := redis.NewClient(ctx, &config.Storage.Lease)
		if err != nil {
			badgerManager.Close()
			return nil, err
		}

		logger.Info().Str("addr", config.Storage.Lease.RedisAddr).Msg("Using redis lease backend")
		return &manager{
			Manager: badgerManager,
			lease:   redis.NewLeaseStorage(client, config.Storage.Lease.KeyPrefix, logger),
		}, nil
	default:
		badgerManager.Close()
		return nil, fmt.Errorf("unsupported lease backend: %s (expected 'badger' or 'redis')", config.Storage.Lease.Backend)
	}
}
