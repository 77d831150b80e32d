package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
)

// Requires a reachable Redis; set HARVESTER_TEST_REDIS_ADDR to run.
func newTestLeaseStorage(t *testing.T) *LeaseStorage {
	t.Helper()
	addr := os.Getenv("HARVESTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HARVESTER_TEST_REDIS_ADDR not set")
	}

	client, err := NewClient(context.Background(), &common.LeaseConfig{RedisAddr: addr})
	require.NoError(t, err)

	storage := NewLeaseStorage(client, "harvester:test:"+t.Name()+":", arbor.NewLogger())
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestLeaseStorage_Exclusive(t *testing.T) {
	storage := newTestLeaseStorage(t)
	ctx := context.Background()

	ok, err := storage.Acquire(ctx, "conn-1", "run-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = storage.Acquire(ctx, "conn-1", "run-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// wrong holder cannot release
	require.NoError(t, storage.Release(ctx, "conn-1", "run-b"))
	ok, err = storage.Acquire(ctx, "conn-1", "run-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.Release(ctx, "conn-1", "run-a"))
	ok, err = storage.Acquire(ctx, "conn-1", "run-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, storage.Release(ctx, "conn-1", "run-b"))
}

func TestLeaseStorage_Expires(t *testing.T) {
	storage := newTestLeaseStorage(t)
	ctx := context.Background()

	ok, err := storage.Acquire(ctx, "conn-2", "run-a", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(250 * time.Millisecond)

	ok, err = storage.Acquire(ctx, "conn-2", "run-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, storage.Release(ctx, "conn-2", "run-b"))
}
