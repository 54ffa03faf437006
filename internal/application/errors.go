package application

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("application: session not found")
	// ErrSessionCancelled is returned when joining a cancelled session.
	ErrSessionCancelled = errors.New("application: session cancelled")
	// ErrSessionInPast is returned when joining a session that already started.
	ErrSessionInPast = errors.New("application: session in past")
	// ErrAlreadyRegistered is returned when the user already has a participant row.
	ErrAlreadyRegistered = errors.New("application: already registered")
	// ErrNotRegistered is returned when the user has no participant row.
	ErrNotRegistered = errors.New("application: not registered")
	// ErrCapacityConflict is returned when concurrent writes kept colliding after retries.
	ErrCapacityConflict = errors.New("application: capacity conflict")
	// ErrInvalidJoinCode is returned when a join code is malformed.
	ErrInvalidJoinCode = errors.New("application: invalid join code")
)

// ValidationError captures field level validation issues that callers can surface to users.
// Reasons keeps every message in the order it was found.
type ValidationError struct {
	FieldErrors map[string]string
	Reasons     []string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.Reasons) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(v.Reasons, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && (len(v.FieldErrors) > 0 || len(v.Reasons) > 0)
}

// add records a field level validation error. The first message per field wins
// in FieldErrors while every message is kept in Reasons.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; !exists {
		v.FieldErrors[field] = message
	}
	v.Reasons = append(v.Reasons, message)
}
