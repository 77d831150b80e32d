// Package redis provides a lease backend shared by several harvester instances.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
)

// releaseScript deletes the key only when it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseStorage implements interfaces.LeaseStorage with SET NX PX
type LeaseStorage struct {
	client *redis.Client
	prefix string
	logger arbor.ILogger
}

var _ interfaces.LeaseStorage = (*LeaseStorage)(nil)

// NewClient creates a Redis client from the lease configuration and pings it
func NewClient(ctx context.Context, config *common.LeaseConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}
	return client, nil
}

// NewLeaseStorage creates a new [LeaseStorage] instance
func NewLeaseStorage(client *redis.Client, prefix string, logger arbor.ILogger) *LeaseStorage {
	return &LeaseStorage{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *LeaseStorage) key(connectionID string) string {
	return s.prefix + connectionID
}

func (s *LeaseStorage) Acquire(ctx context.Context, connectionID, holder string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lease ttl must be positive")
	}

	ok, err := s.client.SetNX(ctx, s.key(connectionID), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease in redis: %w", err)
	}
	if ok {
		return true, nil
	}

	// Re-entrant for the same holder: extend instead of failing
	current, err := s.client.Get(ctx, s.key(connectionID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lease in redis: %w", err)
	}
	if current != holder {
		return false, nil
	}
	if err := s.client.PExpire(ctx, s.key(connectionID), ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to extend lease in redis: %w", err)
	}
	return true, nil
}

func (s *LeaseStorage) Release(ctx context.Context, connectionID, holder string) error {
	deleted, err := releaseScript.Run(ctx, s.client, []string{s.key(connectionID)}, holder).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease in redis: %w", err)
	}
	if deleted == 0 {
		s.logger.Debug().
			Str("connection_id", connectionID).
			Str("holder", holder).
			Msg("Lease not held by this holder, nothing released")
	}
	return nil
}

// Close closes the redis client
func (s *LeaseStorage) Close() error {
	return s.client.Close()
}
