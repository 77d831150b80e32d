package models

import "time"

// Lease marks a connection as exclusively held by one pipeline run until ExpiresAt
type Lease struct {
	ConnectionID string    `json:"connection_id"`
	Holder       string    `json:"holder"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the lease no longer excludes other holders at now
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
