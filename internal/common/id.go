package common

import (
	"github.com/google/uuid"
)

// NewConnectionID generates a connection ID with the "conn_" prefix
func NewConnectionID() string {
	return "conn_" + uuid.New().String()
}

// NewAuditLogID generates an audit log ID with the "audit_" prefix
func NewAuditLogID() string {
	return "audit_" + uuid.New().String()
}

// NewRunID generates a scheduler pass ID with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewHandleID generates a browser handle ID with the "tab_" prefix
func NewHandleID() string {
	return "tab_" + uuid.New().String()
}
