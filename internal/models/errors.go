package models

import (
	"errors"
	"fmt"
)

// ErrPlatformNotConfigured is returned when no profile exists for a connection's platform
var ErrPlatformNotConfigured = errors.New("platform not configured")

// ConfigurationError reports a missing or invalid setting that must halt startup
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NavigationError is returned once the retry budget for a navigation is exhausted
type NavigationError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ElementError is returned once the retry budget for an element interaction is exhausted
type ElementError struct {
	Selector string
	Action   string // "type" or "click"
	Attempts int
	Err      error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("%s on %q failed after %d attempt(s): %v", e.Action, e.Selector, e.Attempts, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }

// AuthenticationError reports a failed login flow or rejected credentials
type AuthenticationError struct {
	ConnectionID string
	Platform     Platform
	Reason       string
	Err          error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for connection %s (%s): %s: %v", e.ConnectionID, e.Platform, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed for connection %s (%s): %s", e.ConnectionID, e.Platform, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// DecryptionError reports a corrupted, tampered or incompatible vault blob.
// It never carries the blob or any partial plaintext.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// PersistenceError reports a data-store write failure.
// Earlier steps of the same run are not rolled back.
type PersistenceError struct {
	Op     string
	Entity string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
