package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/models"
)

func seedConnection(t *testing.T, storage *ConnectionStorage, id, tenant string, platform models.Platform, active bool) *models.Connection {
	t.Helper()
	conn := &models.Connection{
		ID:              id,
		TenantID:        tenant,
		Platform:        platform,
		ExternalStoreID: "store-" + id,
		IsActive:        active,
	}
	require.NoError(t, storage.SaveConnection(context.Background(), conn))
	return conn
}

func TestConnectionStorage_SaveAndGet(t *testing.T) {
	storage := NewConnectionStorage(newTestDB(t), arbor.NewLogger()).(*ConnectionStorage)
	ctx := context.Background()

	seedConnection(t, storage, "c1", "t1", models.PlatformYelp, true)

	got, err := storage.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, models.PlatformYelp, got.Platform)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = storage.GetConnection(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrConnectionNotFound))
}

func TestConnectionStorage_ListFilters(t *testing.T) {
	storage := NewConnectionStorage(newTestDB(t), arbor.NewLogger()).(*ConnectionStorage)
	ctx := context.Background()

	seedConnection(t, storage, "c1", "t1", models.PlatformYelp, true)
	seedConnection(t, storage, "c2", "t1", models.PlatformGoogle, false)
	seedConnection(t, storage, "c3", "t2", models.PlatformGoogle, true)
	seedConnection(t, storage, "c4", "t2", models.PlatformTrustpilot, true)

	synced := time.Now().Add(-time.Hour)
	require.NoError(t, storage.RecordSuccess(ctx, "c4", synced))

	ids := func(conns []*models.Connection) []string {
		out := make([]string, 0, len(conns))
		for _, c := range conns {
			out = append(out, c.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter *models.ConnectionFilter
		want   []string
	}{
		{"all", nil, []string{"c1", "c2", "c3", "c4"}},
		{"active only", &models.ConnectionFilter{ActiveOnly: true}, []string{"c1", "c3", "c4"}},
		{"tenant", &models.ConnectionFilter{TenantID: "t1"}, []string{"c1", "c2"}},
		{"platforms", &models.ConnectionFilter{Platforms: []models.Platform{models.PlatformGoogle}}, []string{"c2", "c3"}},
		{"active google", &models.ConnectionFilter{ActiveOnly: true, Platforms: []models.Platform{models.PlatformGoogle}}, []string{"c3"}},
		{"ids", &models.ConnectionFilter{IDs: []string{"c1", "c4"}}, []string{"c1", "c4"}},
		{"synced before", &models.ConnectionFilter{SyncedBefore: &synced}, []string{"c1", "c2", "c3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conns, err := storage.ListConnections(ctx, tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(conns))
		})
	}
}

func TestConnectionStorage_UpdateSession(t *testing.T) {
	storage := NewConnectionStorage(newTestDB(t), arbor.NewLogger()).(*ConnectionStorage)
	ctx := context.Background()
	seedConnection(t, storage, "c1", "t1", models.PlatformYelp, true)

	expires := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	require.NoError(t, storage.UpdateSession(ctx, "c1", "blob", &expires))

	got, err := storage.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "blob", got.EncryptedSessionCookies)
	require.NotNil(t, got.SessionExpiresAt)
	assert.True(t, expires.Equal(*got.SessionExpiresAt))

	require.NoError(t, storage.UpdateSession(ctx, "c1", "", &expires))
	got, err = storage.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.HasSession())
	assert.Nil(t, got.SessionExpiresAt)

	err = storage.UpdateSession(ctx, "missing", "blob", nil)
	assert.True(t, errors.Is(err, models.ErrConnectionNotFound))
}

func TestConnectionStorage_ReplaceCredentialsClearsSession(t *testing.T) {
	storage := NewConnectionStorage(newTestDB(t), arbor.NewLogger()).(*ConnectionStorage)
	ctx := context.Background()
	seedConnection(t, storage, "c1", "t1", models.PlatformYelp, true)

	expires := time.Now().Add(24 * time.Hour)
	require.NoError(t, storage.UpdateSession(ctx, "c1", "session-blob", &expires))

	require.NoError(t, storage.ReplaceCredentials(ctx, "c1", "new-creds"))

	got, err := storage.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "new-creds", got.EncryptedCredentials)
	assert.False(t, got.HasSession())
	assert.Nil(t, got.SessionExpiresAt)

	err = storage.ReplaceCredentials(ctx, "missing", "creds")
	assert.True(t, errors.Is(err, models.ErrConnectionNotFound))
}

func TestConnectionStorage_RecordFailure(t *testing.T) {
	storage := NewConnectionStorage(newTestDB(t), arbor.NewLogger()).(*ConnectionStorage)
	ctx := context.Background()
	seedConnection(t, storage, "c1", "t1", models.PlatformYelp, true)

	conn, err := storage.RecordFailure(ctx, "c1", "login wall", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.ErrorCount)
	assert.Equal(t, "login wall", conn.LastError)
	assert.True(t, conn.IsActive, "circuit breaker disabled")

	conn, err = storage.RecordFailure(ctx, "c1", "timeout", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, conn.ErrorCount)
	assert.True(t, conn.IsActive)

	conn, err = storage.RecordFailure(ctx, "c1", "timeout", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, conn.ErrorCount)
	assert.False(t, conn.IsActive, "deactivated at threshold")

	require.NoError(t, storage.ResetHealth(ctx, "c1"))
	got, err := storage.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ErrorCount)
	assert.Empty(t, got.LastError)
}

func TestConnectionStorage_RecordFailureConcurrent(t *testing.T) {
	storage := NewConnectionStorage(newTestDB(t), arbor.NewLogger()).(*ConnectionStorage)
	ctx := context.Background()
	seedConnection(t, storage, "c1", "t1", models.PlatformYelp, true)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.RecordFailure(ctx, "c1", "boom", 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := storage.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.ErrorCount)
}

func TestConnectionStorage_RecordSuccessKeepsErrorCount(t *testing.T) {
	storage := NewConnectionStorage(newTestDB(t), arbor.NewLogger()).(*ConnectionStorage)
	ctx := context.Background()
	seedConnection(t, storage, "c1", "t1", models.PlatformYelp, true)

	_, err := storage.RecordFailure(ctx, "c1", "boom", 0)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, storage.RecordSuccess(ctx, "c1", now))

	got, err := storage.GetConnection(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.Equal(t, 1, got.ErrorCount)
}
