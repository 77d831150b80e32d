package connections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/session"
	"github.com/ternarybob/harvester/internal/services/vault"
	"github.com/ternarybob/harvester/internal/storage/badger"
)

func newTestDeps(t *testing.T) (*badger.Manager, *vault.Service, *session.Service) {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	v, err := vault.NewService("connections-test-secret")
	require.NoError(t, err)

	return manager, v, session.NewService(manager.ConnectionStorage(), v, time.Hour, logger)
}

func newTestService(t *testing.T) (*Service, *vault.Service, *session.Service) {
	t.Helper()
	manager, v, sessions := newTestDeps(t)
	return NewService(manager.ConnectionStorage(), manager.RecordStorage(), v, sessions, arbor.NewLogger()), v, sessions
}

// brokenSessions fails to seal any session
type brokenSessions struct {
	*session.Service
}

func (brokenSessions) Seal([]models.Cookie, *time.Time) (string, error) {
	return "", errors.New("vault unavailable")
}

// brokenSealer fails to encrypt credentials
type brokenSealer struct{}

func (brokenSealer) EncryptCredentials(*models.Credentials) (string, error) {
	return "", errors.New("vault unavailable")
}

func linkRequest() LinkRequest {
	return LinkRequest{
		TenantID:        "tenant_1",
		Platform:        models.PlatformTrustpilot,
		ExternalStoreID: "acme.example.com",
		DisplayName:     "Acme",
		Credentials:     models.Credentials{Username: "owner@acme.example.com", Password: "pw-1"},
	}
}

func TestLink(t *testing.T) {
	svc, v, sessions := newTestService(t)
	ctx := context.Background()

	req := linkRequest()
	expires := time.Now().Add(48 * time.Hour).Unix()
	req.Cookies = []models.Cookie{{Name: "sid", Value: "initial", Expires: expires}}

	conn, err := svc.Link(ctx, req)
	require.NoError(t, err)

	assert.Contains(t, conn.ID, "conn_")
	assert.True(t, conn.IsActive)
	assert.Zero(t, conn.ErrorCount)
	assert.NotContains(t, conn.EncryptedCredentials, "pw-1")

	creds, err := v.DecryptCredentials(conn.EncryptedCredentials)
	require.NoError(t, err)
	assert.Equal(t, "owner@acme.example.com", creds.Username)

	stored, err := sessions.Load(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "initial", stored.Cookies[0].Value)
	require.NotNil(t, conn.SessionExpiresAt)
	assert.Equal(t, expires, conn.SessionExpiresAt.Unix())
}

func TestLink_SessionFailureStoresNothing(t *testing.T) {
	manager, v, sessions := newTestDeps(t)
	svc := NewService(manager.ConnectionStorage(), manager.RecordStorage(), v, brokenSessions{sessions}, arbor.NewLogger())
	ctx := context.Background()

	req := linkRequest()
	req.Cookies = []models.Cookie{{Name: "sid", Value: "initial"}}

	_, err := svc.Link(ctx, req)
	require.Error(t, err)

	list, err := svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLink_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*LinkRequest)
	}{
		{"missing tenant", func(r *LinkRequest) { r.TenantID = "" }},
		{"missing store", func(r *LinkRequest) { r.ExternalStoreID = "" }},
		{"missing password", func(r *LinkRequest) { r.Credentials.Password = "" }},
		{"unknown platform", func(r *LinkRequest) { r.Platform = "friendster" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := linkRequest()
			tt.mutate(&req)
			_, err := svc.Link(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	list, err := svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRelink_ClearsSession(t *testing.T) {
	svc, v, sessions := newTestService(t)
	ctx := context.Background()

	req := linkRequest()
	req.Cookies = []models.Cookie{{Name: "sid", Value: "old"}}
	conn, err := svc.Link(ctx, req)
	require.NoError(t, err)

	require.NoError(t, svc.Relink(ctx, conn.ID, models.Credentials{Username: "new@acme.example.com", Password: "pw-2"}))

	updated, err := svc.Get(ctx, conn.ID)
	require.NoError(t, err)
	creds, err := v.DecryptCredentials(updated.EncryptedCredentials)
	require.NoError(t, err)
	assert.Equal(t, "pw-2", creds.Password)
	assert.False(t, updated.HasSession())
	assert.Nil(t, updated.SessionExpiresAt)

	stored, err := sessions.Load(ctx, conn.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.ErrorIs(t, svc.Relink(ctx, conn.ID, models.Credentials{Username: "x"}), ErrInvalidRequest)
	assert.ErrorIs(t, svc.Relink(ctx, "conn_missing", models.Credentials{Username: "x", Password: "y"}), models.ErrConnectionNotFound)
}

func TestRelink_EncryptionFailureKeepsState(t *testing.T) {
	manager, v, sessions := newTestDeps(t)
	ctx := context.Background()

	linker := NewService(manager.ConnectionStorage(), manager.RecordStorage(), v, sessions, arbor.NewLogger())
	req := linkRequest()
	req.Cookies = []models.Cookie{{Name: "sid", Value: "kept"}}
	conn, err := linker.Link(ctx, req)
	require.NoError(t, err)

	svc := NewService(manager.ConnectionStorage(), manager.RecordStorage(), brokenSealer{}, sessions, arbor.NewLogger())
	require.Error(t, svc.Relink(ctx, conn.ID, models.Credentials{Username: "new@acme.example.com", Password: "pw-2"}))

	got, err := svc.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.EncryptedCredentials, got.EncryptedCredentials)
	assert.True(t, got.HasSession())
}

func TestActivationAndHealth(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conn, err := svc.Link(ctx, linkRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, conn.ID))
	active, err := svc.List(ctx, &models.ConnectionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, svc.Activate(ctx, conn.ID))
	active, err = svc.List(ctx, &models.ConnectionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = svc.storage.RecordFailure(ctx, conn.ID, "boom", 0)
	require.NoError(t, err)
	require.NoError(t, svc.ResetHealth(ctx, conn.ID))

	got, err := svc.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ErrorCount)
	assert.Empty(t, got.LastError)
}

func TestDescribe(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conn, err := svc.Link(ctx, linkRequest())
	require.NoError(t, err)

	status, err := svc.Describe(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, status.HasCredentials)
	assert.False(t, status.HasSession)
	assert.True(t, status.SessionExpired)
	assert.Zero(t, status.RecordCount)

	observed := time.Now()
	_, err = svc.records.InsertNew(ctx, []*models.ExtractedRecord{
		{ConnectionID: conn.ID, ExternalID: "r1", ObservedAt: observed.Add(-time.Minute)},
		{ConnectionID: conn.ID, ExternalID: "r2", ObservedAt: observed},
	})
	require.NoError(t, err)

	status, err = svc.Describe(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.RecordCount)

	records, err := svc.Records(ctx, conn.ID, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r2", records[0].ExternalID)

	_, err = svc.Records(ctx, "conn_missing", 0)
	assert.ErrorIs(t, err, models.ErrConnectionNotFound)
}
