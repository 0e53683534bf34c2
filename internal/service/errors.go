package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSourceNotFound is returned when a source id is not held by any cached result.
var ErrSourceNotFound = errors.New("source not found")

// ValidationError rejects a request before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
