package models

import (
	"errors"
	"time"
)

// Platform identifies the external platform a connection crawls
type Platform string

const (
	PlatformGoogle      Platform = "google"
	PlatformYelp        Platform = "yelp"
	PlatformTripAdvisor Platform = "tripadvisor"
	PlatformTrustpilot  Platform = "trustpilot"
	PlatformFacebook    Platform = "facebook"
)

// Platforms lists every supported platform
func Platforms() []Platform {
	return []Platform{PlatformGoogle, PlatformYelp, PlatformTripAdvisor, PlatformTrustpilot, PlatformFacebook}
}

// Valid reports whether p is a supported platform
func (p Platform) Valid() bool {
	for _, known := range Platforms() {
		if p == known {
			return true
		}
	}
	return false
}

// ErrConnectionNotFound is returned when a connection does not exist in storage
var ErrConnectionNotFound = errors.New("connection not found")

// Connection is the durable link between a tenant and one store on an external platform.
// Credentials and session cookies are only ever held as vault blobs; an empty blob means null.
type Connection struct {
	ID                      string     `json:"id"`
	TenantID                string     `json:"tenant_id" badgerhold:"index"`
	Platform                Platform   `json:"platform" badgerhold:"index"`
	ExternalStoreID         string     `json:"external_store_id"`
	DisplayName             string     `json:"display_name"`
	EncryptedCredentials    string     `json:"-"`
	EncryptedSessionCookies string     `json:"-"`
	SessionExpiresAt        *time.Time `json:"session_expires_at,omitempty"`
	IsActive                bool       `json:"is_active"`
	ErrorCount              int        `json:"error_count"`
	LastError               string     `json:"last_error,omitempty"`
	LastSyncAt              *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// HasCredentials reports whether an encrypted credential blob is stored
func (c *Connection) HasCredentials() bool {
	return c.EncryptedCredentials != ""
}

// HasSession reports whether an encrypted session blob is stored
func (c *Connection) HasSession() bool {
	return c.EncryptedSessionCookies != ""
}

// ConnectionFilter narrows connection listings.
// TenantID is an equality predicate, Platforms and IDs are in-list predicates and
// SyncedBefore is a range predicate on LastSyncAt (never-synced connections match).
type ConnectionFilter struct {
	TenantID     string
	Platforms    []Platform
	IDs          []string
	ActiveOnly   bool
	SyncedBefore *time.Time
}

// Credentials is the plaintext login material for a platform account.
// It only exists in memory; storage always holds the encrypted form.
type Credentials struct {
	Username string            `json:"username" validate:"required"`
	Password string            `json:"password" validate:"required"`
	Extra    map[string]string `json:"extra,omitempty"`
}
