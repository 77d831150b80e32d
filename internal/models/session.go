package models

import (
	"time"
)

// Cookie is a browser cookie captured from or injected into a platform session
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"` // Unix seconds, 0 for session cookies
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
	SameSite string `json:"sameSite,omitempty"`
}

// ExpiresTime returns the cookie expiry, or nil for session cookies
func (c Cookie) ExpiresTime() *time.Time {
	if c.Expires <= 0 {
		return nil
	}
	t := time.Unix(c.Expires, 0).UTC()
	return &t
}

// Session is the authenticated cookie state for one connection.
// It is replaced wholesale on re-authentication, never merged.
type Session struct {
	Cookies   []Cookie   `json:"cookies"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// IsEmpty reports whether the session carries no cookies
func (s *Session) IsEmpty() bool {
	return s == nil || len(s.Cookies) == 0
}

// SessionExpiry derives the overall session expiry from its cookies:
// the earliest positive cookie expiry, or nil when every cookie is a session cookie.
func SessionExpiry(cookies []Cookie) *time.Time {
	var earliest *time.Time
	for _, c := range cookies {
		exp := c.ExpiresTime()
		if exp == nil {
			continue
		}
		if earliest == nil || exp.Before(*earliest) {
			earliest = exp
		}
	}
	return earliest
}
