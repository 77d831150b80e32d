package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/harvester/internal/models"
)

// CredentialVault encrypts and decrypts credential and session blobs at rest
type CredentialVault interface {
	Encrypt(plaintext string) (string, error)
	// Decrypt returns *models.DecryptionError on any malformed or tampered blob
	Decrypt(blob string) (string, error)
}

// SessionStore persists per-connection session state through the connection record
type SessionStore interface {
	// Seal encrypts a session for storage without writing it
	Seal(cookies []models.Cookie, expiresAt *time.Time) (string, error)
	Save(ctx context.Context, connectionID string, cookies []models.Cookie, expiresAt *time.Time) error
	// Load returns nil without error when no usable session is stored
	Load(ctx context.Context, connectionID string) (*models.Session, error)
	IsExpired(ctx context.Context, connectionID string) (bool, error)
	Expired(session *models.Session) bool
}

// ReAuthenticator restores a platform session by replaying the login flow
type ReAuthenticator interface {
	Reauthenticate(ctx context.Context, conn *models.Connection, handle BrowserHandle) (*models.Session, error)
}

// PlatformProfile is the per-platform glue: where to crawl, how to log in and
// how to recognise a login wall
type PlatformProfile interface {
	Platform() models.Platform
	TargetURL(conn *models.Connection) string
	NavigateOptions() NavigateOptions
	LoginRequired(page *models.PageContent) bool
	Login(ctx context.Context, browser BrowserAdapter, handle BrowserHandle, creds *models.Credentials) error
	Strategies() []ExtractionStrategy
}

// PlatformRegistry resolves profiles by platform
type PlatformRegistry interface {
	Profile(platform models.Platform) (PlatformProfile, error)
}

// AuditTrail creates and finalizes per-run audit log entries
type AuditTrail interface {
	Create(ctx context.Context, connectionID string) (string, error)
	Finalize(ctx context.Context, logID string, outcome models.AuditOutcome) error
}

// CrawlPipeline runs the full per-connection unit of work.
// It always returns a result and never propagates per-connection errors.
type CrawlPipeline interface {
	Run(ctx context.Context, conn *models.Connection) *models.CrawlResult
}

// CrawlScheduler runs passes over all eligible connections
type CrawlScheduler interface {
	RunAll(ctx context.Context, opts models.RunOptions) (*models.RunSummary, error)
	LastSummary() *models.RunSummary
	Start(cronExpr string) error
	Stop() error
}
