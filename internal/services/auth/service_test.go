package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/browser/browsertest"
	"github.com/ternarybob/harvester/internal/services/platforms"
	"github.com/ternarybob/harvester/internal/services/session"
	"github.com/ternarybob/harvester/internal/services/vault"
	"github.com/ternarybob/harvester/internal/storage/badger"
)

const loginURL = "https://reviews.example.com/login"

type fixture struct {
	svc      *Service
	fake     *browsertest.Fake
	vault    *vault.Service
	sessions *session.Service
	manager  *badger.Manager
	conn     *models.Connection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	ctx := context.Background()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	v, err := vault.NewService("auth-test-secret")
	require.NoError(t, err)

	blob, err := v.EncryptCredentials(&models.Credentials{Username: "owner@example.com", Password: "s3cret"})
	require.NoError(t, err)

	conn := &models.Connection{
		ID:                   "conn_1",
		TenantID:             "tenant_1",
		Platform:             models.PlatformYelp,
		ExternalStoreID:      "store-1",
		EncryptedCredentials: blob,
		IsActive:             true,
	}
	require.NoError(t, manager.ConnectionStorage().SaveConnection(ctx, conn))

	registry, err := platforms.NewRegistry(map[string]common.PlatformConfig{
		"yelp": {
			TargetURL:        "https://reviews.example.com/biz/{store_id}",
			LoginURL:         loginURL,
			UsernameSelector: "#email",
			PasswordSelector: "#password",
			SubmitSelector:   "#submit",
		},
	}, common.NewDefaultConfig().Browser, logger)
	require.NoError(t, err)

	fake := browsertest.NewFake()
	fake.SetPage(loginURL, `<form id="login"></form>`)

	sessions := session.NewService(manager.ConnectionStorage(), v, time.Hour, logger)

	return &fixture{
		svc:      NewService(v, sessions, fake, registry, logger),
		fake:     fake,
		vault:    v,
		sessions: sessions,
		manager:  manager,
		conn:     conn,
	}
}

func (f *fixture) open(t *testing.T) interfaces.BrowserHandle {
	t.Helper()
	handle, err := f.fake.Open(context.Background(), interfaces.OpenOptions{})
	require.NoError(t, err)
	return handle
}

func TestReauthenticate_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := time.Now().Add(48 * time.Hour).Unix()
	f.fake.Cookies = []models.Cookie{
		{Name: "sid", Value: "abc", Domain: "reviews.example.com", Path: "/", Expires: expires},
		{Name: "pref", Value: "x", Domain: "reviews.example.com", Path: "/"},
	}

	session, err := f.svc.Reauthenticate(ctx, f.conn, f.open(t))
	require.NoError(t, err)
	require.Len(t, session.Cookies, 2)
	require.NotNil(t, session.ExpiresAt)
	assert.Equal(t, expires, session.ExpiresAt.Unix())

	assert.Equal(t, "owner@example.com", f.fake.Typed["#email"])
	assert.Equal(t, "s3cret", f.fake.Typed["#password"])

	stored, err := f.sessions.Load(ctx, f.conn.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, session.Cookies, stored.Cookies)

	conn, err := f.manager.ConnectionStorage().GetConnection(ctx, f.conn.ID)
	require.NoError(t, err)
	require.NotNil(t, conn.SessionExpiresAt)
	assert.Equal(t, expires, conn.SessionExpiresAt.Unix())
	assert.NotContains(t, conn.EncryptedSessionCookies, "abc")
}

func TestReauthenticate_ReplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sessions.Save(ctx, f.conn.ID, []models.Cookie{{Name: "old", Value: "1"}}, nil))

	f.fake.Cookies = []models.Cookie{{Name: "new", Value: "2"}}
	_, err := f.svc.Reauthenticate(ctx, f.conn, f.open(t))
	require.NoError(t, err)

	stored, err := f.sessions.Load(ctx, f.conn.ID)
	require.NoError(t, err)
	require.Len(t, stored.Cookies, 1)
	assert.Equal(t, "new", stored.Cookies[0].Name)
	assert.Nil(t, stored.ExpiresAt)
}

func TestReauthenticate_CorruptCredentials(t *testing.T) {
	f := newFixture(t)
	f.conn.EncryptedCredentials = "bm90LWEtdmFsaWQtYmxvYg=="

	_, err := f.svc.Reauthenticate(context.Background(), f.conn, f.open(t))

	var authErr *models.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	var decErr *models.DecryptionError
	assert.ErrorAs(t, err, &decErr)
	assert.Zero(t, f.fake.Count("navigate:"+loginURL))
}

func TestReauthenticate_NoCredentials(t *testing.T) {
	f := newFixture(t)
	f.conn.EncryptedCredentials = ""

	_, err := f.svc.Reauthenticate(context.Background(), f.conn, f.open(t))
	var authErr *models.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "no credentials stored", authErr.Reason)
}

func TestReauthenticate_LoginFlowFails(t *testing.T) {
	f := newFixture(t)
	f.fake.ElementErrs["#submit"] = errors.New("detached")

	_, err := f.svc.Reauthenticate(context.Background(), f.conn, f.open(t))

	var authErr *models.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	var elemErr *models.ElementError
	assert.ErrorAs(t, err, &elemErr)

	stored, err := f.sessions.Load(context.Background(), f.conn.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestReauthenticate_NoCookies(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Reauthenticate(context.Background(), f.conn, f.open(t))
	var authErr *models.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "login produced no session cookies", authErr.Reason)
}

func TestReauthenticate_PlatformNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.conn.Platform = models.PlatformGoogle

	_, err := f.svc.Reauthenticate(context.Background(), f.conn, f.open(t))
	assert.ErrorIs(t, err, models.ErrPlatformNotConfigured)
}
