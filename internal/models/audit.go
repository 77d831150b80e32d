package models

import (
	"errors"
	"time"
)

// AuditStatus is the state of a pipeline run's audit log entry
type AuditStatus string

const (
	AuditStatusProcessing AuditStatus = "processing"
	AuditStatusSuccess    AuditStatus = "success"
	AuditStatusFailed     AuditStatus = "failed"
)

// IsTerminal reports whether the status is a final state
func (s AuditStatus) IsTerminal() bool {
	return s == AuditStatusSuccess || s == AuditStatusFailed
}

var (
	// ErrAuditLogNotFound is returned when an audit log entry does not exist
	ErrAuditLogNotFound = errors.New("audit log not found")
	// ErrAuditLogFinalized is returned when finalizing an entry that already reached a terminal state
	ErrAuditLogFinalized = errors.New("audit log already finalized")
)

// AuditLogEntry records one pipeline run for a connection.
// Created in processing, transitions exactly once to success or failed.
type AuditLogEntry struct {
	ID              string      `json:"id"`
	ConnectionID    string      `json:"connection_id" badgerhold:"index"`
	Status          AuditStatus `json:"status" badgerhold:"index"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CountsFound     int         `json:"counts_found"`
	CountsNew       int         `json:"counts_new"`
	DurationMs      int64       `json:"duration_ms"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	Reauthenticated bool        `json:"reauthenticated"`
}

// AuditOutcome is the payload applied when finalizing an audit log entry
type AuditOutcome struct {
	Status          AuditStatus
	CountsFound     int
	CountsNew       int
	DurationMs      int64
	ErrorMessage    string
	Reauthenticated bool
}

// AuditLogFilter narrows audit log listings
type AuditLogFilter struct {
	ConnectionID  string
	Status        AuditStatus
	StartedBefore *time.Time
	Limit         int
}
