// Package session keeps each connection's browser session encrypted on its record
// and decides when a stored session is too close to expiry to use.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// DefaultExpiryBuffer treats a session as expired this long before its recorded expiry
const DefaultExpiryBuffer = time.Hour

// Service implements interfaces.SessionStore. Sessions live encrypted on the
// connection record, so the store shares the connection's transactions.
type Service struct {
	connections interfaces.ConnectionStorage
	vault       interfaces.CredentialVault
	buffer      time.Duration
	now         func() time.Time
	logger      arbor.ILogger
}

var _ interfaces.SessionStore = (*Service)(nil)

// NewService creates a session store. A non-positive buffer uses DefaultExpiryBuffer.
func NewService(connections interfaces.ConnectionStorage, vault interfaces.CredentialVault, buffer time.Duration, logger arbor.ILogger) *Service {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	return &Service{
		connections: connections,
		vault:       vault,
		buffer:      buffer,
		now:         time.Now,
		logger:      logger,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Seal serialises and encrypts a session into the blob stored on the connection
func (s *Service) Seal(cookies []models.Cookie, expiresAt *time.Time) (string, error) {
	data, err := json.Marshal(models.Session{Cookies: cookies, ExpiresAt: expiresAt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	blob, err := s.vault.Encrypt(string(data))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	return blob, nil
}

// Save replaces the stored session wholesale
func (s *Service) Save(ctx context.Context, connectionID string, cookies []models.Cookie, expiresAt *time.Time) error {
	blob, err := s.Seal(cookies, expiresAt)
	if err != nil {
		return err
	}

	if err := s.connections.UpdateSession(ctx, connectionID, blob, expiresAt); err != nil {
		return err
	}

	s.logger.Debug().
		Str("connection_id", connectionID).
		Int("cookies", len(cookies)).
		Bool("has_expiry", expiresAt != nil).
		Msg("Session saved")
	return nil
}

// Load returns nil when there is no usable session. Undecryptable or
// unparseable blobs are reported as "no session" rather than errors.
func (s *Service) Load(ctx context.Context, connectionID string) (*models.Session, error) {
	conn, err := s.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.fromConnection(conn), nil
}

func (s *Service) fromConnection(conn *models.Connection) *models.Session {
	if !conn.HasSession() {
		return nil
	}

	plaintext, err := s.vault.Decrypt(conn.EncryptedSessionCookies)
	if err != nil {
		s.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("Stored session could not be decrypted, treating as no session")
		return nil
	}

	var session models.Session
	if err := json.Unmarshal([]byte(plaintext), &session); err != nil {
		s.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("Stored session could not be parsed, treating as no session")
		return nil
	}

	// The column is authoritative for expiry
	if conn.SessionExpiresAt != nil {
		session.ExpiresAt = conn.SessionExpiresAt
	}
	return &session
}

// IsExpired loads the session and applies Expired
func (s *Service) IsExpired(ctx context.Context, connectionID string) (bool, error) {
	session, err := s.Load(ctx, connectionID)
	if err != nil {
		return true, err
	}
	return s.Expired(session), nil
}

// Expired reports whether a session must be refreshed before use.
// A session without a known expiry is assumed valid; the login-wall check after
// navigation catches the ones that silently died.
func (s *Service) Expired(session *models.Session) bool {
	return Expired(session, s.now(), s.buffer)
}

// Expired is the pure expiry rule
func Expired(session *models.Session, now time.Time, buffer time.Duration) bool {
	if session.IsEmpty() {
		return true
	}
	if session.ExpiresAt == nil {
		return false
	}
	return !now.Before(session.ExpiresAt.Add(-buffer))
}
