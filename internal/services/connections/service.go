// Package connections manages the lifecycle of tenant platform connections.
package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// ErrInvalidRequest marks a link or relink request that failed validation
var ErrInvalidRequest = errors.New("invalid request")

// CredentialSealer encrypts credentials for storage
type CredentialSealer interface {
	EncryptCredentials(creds *models.Credentials) (string, error)
}

// LinkRequest creates a connection after the tenant's first platform login
type LinkRequest struct {
	TenantID        string             `json:"tenant_id" validate:"required"`
	Platform        models.Platform    `json:"platform" validate:"required"`
	ExternalStoreID string             `json:"external_store_id" validate:"required"`
	DisplayName     string             `json:"display_name"`
	Credentials     models.Credentials `json:"credentials"`
	Cookies         []models.Cookie    `json:"cookies,omitempty"` // Initial session, if the link flow captured one
}

// Service owns credential mutation and activation state. Crawl runs never call it.
type Service struct {
	storage  interfaces.ConnectionStorage
	records  interfaces.RecordStorage
	vault    CredentialSealer
	sessions interfaces.SessionStore
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewService(storage interfaces.ConnectionStorage, records interfaces.RecordStorage, vault CredentialSealer, sessions interfaces.SessionStore, logger arbor.ILogger) *Service {
	return &Service{
		storage:  storage,
		records:  records,
		vault:    vault,
		sessions: sessions,
		validate: validator.New(),
		logger:   logger,
	}
}

// Link stores a new active connection with encrypted credentials and, when the
// link flow captured cookies, its initial session. Both are sealed before the single write.
func (s *Service) Link(ctx context.Context, req LinkRequest) (*models.Connection, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.Platform.Valid() {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidRequest, req.Platform)
	}

	blob, err := s.vault.EncryptCredentials(&req.Credentials)
	if err != nil {
		return nil, err
	}

	conn := &models.Connection{
		ID:                   common.NewConnectionID(),
		TenantID:             req.TenantID,
		Platform:             req.Platform,
		ExternalStoreID:      req.ExternalStoreID,
		DisplayName:          req.DisplayName,
		EncryptedCredentials: blob,
		IsActive:             true,
	}
	if len(req.Cookies) > 0 {
		expiresAt := models.SessionExpiry(req.Cookies)
		sessionBlob, err := s.sessions.Seal(req.Cookies, expiresAt)
		if err != nil {
			return nil, err
		}
		conn.EncryptedSessionCookies = sessionBlob
		conn.SessionExpiresAt = expiresAt
	}

	if err := s.storage.SaveConnection(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("connection_id", conn.ID).
		Str("tenant_id", conn.TenantID).
		Str("platform", string(conn.Platform)).
		Bool("has_session", conn.HasSession()).
		Msg("Connection linked")

	return conn, nil
}

// Relink replaces the credentials and drops the cached session so the next run logs in fresh.
// It is the only path that mutates credentials.
func (s *Service) Relink(ctx context.Context, id string, creds models.Credentials) error {
	if err := s.validate.Struct(creds); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := s.storage.GetConnection(ctx, id); err != nil {
		return err
	}

	blob, err := s.vault.EncryptCredentials(&creds)
	if err != nil {
		return err
	}
	if err := s.storage.ReplaceCredentials(ctx, id, blob); err != nil {
		return err
	}

	s.logger.Info().Str("connection_id", id).Msg("Connection relinked")
	return nil
}

func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.storage.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info().Str("connection_id", id).Msg("Connection deactivated")
	return nil
}

func (s *Service) Activate(ctx context.Context, id string) error {
	if err := s.storage.SetActive(ctx, id, true); err != nil {
		return err
	}
	s.logger.Info().Str("connection_id", id).Msg("Connection activated")
	return nil
}

// ResetHealth clears the error count after an externally confirmed healthy cycle
func (s *Service) ResetHealth(ctx context.Context, id string) error {
	return s.storage.ResetHealth(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Connection, error) {
	return s.storage.GetConnection(ctx, id)
}

func (s *Service) List(ctx context.Context, filter *models.ConnectionFilter) ([]*models.Connection, error) {
	return s.storage.ListConnections(ctx, filter)
}

// Status summarises a connection for operators; secrets never leave storage
type Status struct {
	*models.Connection
	HasCredentials bool      `json:"has_credentials"`
	HasSession     bool      `json:"has_session"`
	SessionExpired bool      `json:"session_expired"`
	RecordCount    int       `json:"record_count"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Describe reports credential and session presence and the harvested record count
func (s *Service) Describe(ctx context.Context, id string) (*Status, error) {
	conn, err := s.storage.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	expired, err := s.sessions.IsExpired(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.records.CountRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Status{
		Connection:     conn,
		HasCredentials: conn.HasCredentials(),
		HasSession:     conn.HasSession(),
		SessionExpired: expired,
		RecordCount:    count,
		CheckedAt:      time.Now(),
	}, nil
}

// Records returns the newest harvested records of a connection; limit <= 0 means all
func (s *Service) Records(ctx context.Context, id string, limit int) ([]*models.ExtractedRecord, error) {
	if _, err := s.storage.GetConnection(ctx, id); err != nil {
		return nil, err
	}
	return s.records.ListRecords(ctx, id, limit)
}
