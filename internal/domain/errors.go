// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist or belongs to another organization.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is not in a state that allows the operation.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates the request violates a governance rule (HTTP 422).
var ErrValidation = errors.New("validation failed")

// ErrRateLimited indicates a per-actor limit was reached (HTTP 429).
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrForbidden indicates the actor is not allowed to perform the operation.
var ErrForbidden = errors.New("forbidden")

// ErrUnavailable indicates an upstream dependency (agent gateway) failed (HTTP 502).
var ErrUnavailable = errors.New("upstream unavailable")

// Validationf returns an error wrapping ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf returns an error wrapping ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
