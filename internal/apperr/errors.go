// Package apperr defines the error taxonomy shared by the server and the sync client.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("version conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTransient    = errors.New("transient network failure")
)

// VersionConflictError reports the version currently stored so the caller can reconcile.
type VersionConflictError struct {
	Current int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: server has v%d", e.Current)
}

func (e *VersionConflictError) Unwrap() error { return ErrConflict }

// ValidationError carries a machine-readable reason such as "missing_fields"
// and, optionally, per-field messages.
type ValidationError struct {
	Reason string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Reason
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Reason, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation returns a ValidationError with no field detail.
func Validation(reason string) error {
	return &ValidationError{Reason: reason}
}
