// Package auth restores platform sessions by replaying the login flow in the browser.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/vault"
)

// CredentialDecrypter opens a connection's credential blob
type CredentialDecrypter interface {
	DecryptCredentials(blob string) (*models.Credentials, error)
}

var _ CredentialDecrypter = (*vault.Service)(nil)

// Service implements interfaces.ReAuthenticator
type Service struct {
	vault    CredentialDecrypter
	sessions interfaces.SessionStore
	browser  interfaces.BrowserAdapter
	profiles interfaces.PlatformRegistry
	logger   arbor.ILogger
}

var _ interfaces.ReAuthenticator = (*Service)(nil)

func NewService(vault CredentialDecrypter, sessions interfaces.SessionStore, browser interfaces.BrowserAdapter, profiles interfaces.PlatformRegistry, logger arbor.ILogger) *Service {
	return &Service{
		vault:    vault,
		sessions: sessions,
		browser:  browser,
		profiles: profiles,
		logger:   logger,
	}
}

// Reauthenticate logs in on handle with the connection's stored credentials and
// persists the captured cookies as the connection's new session. The previous
// session is replaced, never merged. Every login failure is an *models.AuthenticationError.
func (s *Service) Reauthenticate(ctx context.Context, conn *models.Connection, handle interfaces.BrowserHandle) (*models.Session, error) {
	fail := func(reason string, err error) error {
		return &models.AuthenticationError{ConnectionID: conn.ID, Platform: conn.Platform, Reason: reason, Err: err}
	}

	if !conn.HasCredentials() {
		return nil, fail("no credentials stored", nil)
	}

	creds, err := s.vault.DecryptCredentials(conn.EncryptedCredentials)
	if err != nil {
		return nil, fail("credentials could not be decrypted", err)
	}

	profile, err := s.profiles.Profile(conn.Platform)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("connection_id", conn.ID).
		Str("platform", string(conn.Platform)).
		Msg("Re-authenticating connection")

	if err := profile.Login(ctx, s.browser, handle, creds); err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, fail("login flow failed", err)
	}

	cookies, err := s.browser.GetCookies(ctx, handle)
	if err != nil {
		return nil, fail("session cookies could not be read", err)
	}
	if len(cookies) == 0 {
		return nil, fail("login produced no session cookies", nil)
	}

	session := &models.Session{Cookies: cookies, ExpiresAt: models.SessionExpiry(cookies)}
	if err := s.sessions.Save(ctx, conn.ID, session.Cookies, session.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info().
		Str("connection_id", conn.ID).
		Int("cookies", len(cookies)).
		Bool("has_expiry", session.ExpiresAt != nil).
		Msg("Session refreshed")

	return session, nil
}
