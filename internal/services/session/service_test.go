package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/vault"
	"github.com/ternarybob/harvester/internal/storage/badger"
)

func newTestStore(t *testing.T) (*Service, *badger.Manager, *vault.Service) {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	v, err := vault.NewService("session-test-secret")
	require.NoError(t, err)

	require.NoError(t, manager.ConnectionStorage().SaveConnection(context.Background(), &models.Connection{
		ID: "c1", TenantID: "t1", Platform: models.PlatformGoogle, IsActive: true,
	}))

	return NewService(manager.ConnectionStorage(), v, time.Hour, logger), manager, v
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		t := now.Add(d)
		return &t
	}
	cookies := []models.Cookie{{Name: "sid", Value: "x"}}

	tests := []struct {
		name    string
		session *models.Session
		want    bool
	}{
		{"nil session", nil, true},
		{"no cookies", &models.Session{ExpiresAt: at(48 * time.Hour)}, true},
		{"unknown expiry", &models.Session{Cookies: cookies}, false},
		{"expires in 30m", &models.Session{Cookies: cookies, ExpiresAt: at(30 * time.Minute)}, true},
		{"expires exactly at buffer", &models.Session{Cookies: cookies, ExpiresAt: at(time.Hour)}, true},
		{"expires in 2h", &models.Session{Cookies: cookies, ExpiresAt: at(2 * time.Hour)}, false},
		{"already expired", &models.Session{Cookies: cookies, ExpiresAt: at(-time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expired(tt.session, now, time.Hour))
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store, manager, _ := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	cookies := []models.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", Expires: expires.Unix(), Secure: true, HTTPOnly: true},
	}
	require.NoError(t, store.Save(ctx, "c1", cookies, &expires))

	conn, err := manager.ConnectionStorage().GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.NotContains(t, conn.EncryptedSessionCookies, "abc", "stored encrypted")

	session, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, cookies, session.Cookies)
	require.NotNil(t, session.ExpiresAt)
	assert.True(t, expires.Equal(*session.ExpiresAt))

	expired, err := store.IsExpired(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestSave_ReplacesWholesale(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "c1", []models.Cookie{{Name: "a"}, {Name: "b"}}, nil))
	require.NoError(t, store.Save(ctx, "c1", []models.Cookie{{Name: "c"}}, nil))

	session, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, session.Cookies, 1)
	assert.Equal(t, "c", session.Cookies[0].Name)
	assert.Nil(t, session.ExpiresAt)
}

func TestLoad_NoSession(t *testing.T) {
	store, _, _ := newTestStore(t)

	session, err := store.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, session)

	expired, err := store.IsExpired(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestLoad_CorruptBlobIsNoSession(t *testing.T) {
	store, manager, v := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, manager.ConnectionStorage().UpdateSession(ctx, "c1", "garbage-not-a-blob", nil))
	session, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, session)

	notJSON, err := v.Encrypt("not json")
	require.NoError(t, err)
	require.NoError(t, manager.ConnectionStorage().UpdateSession(ctx, "c1", notJSON, nil))
	session, err = store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestLoad_MissingConnection(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrConnectionNotFound)
}

func TestIsExpired_UsesClock(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	expires := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, "c1", []models.Cookie{{Name: "sid"}}, &expires))

	store.SetClock(func() time.Time { return expires.Add(-2 * time.Hour) })
	expired, err := store.IsExpired(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, expired)

	store.SetClock(func() time.Time { return expires.Add(-30 * time.Minute) })
	expired, err = store.IsExpired(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, expired)
}
