package synth

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced through the HTTP API and workflow failures.
const (
	CodeConfig    = "CONFIG_ERROR"
	CodeIntegrity = "INTEGRITY_ERROR"
)

// ConfigError reports invalid generation input. It is always returned before
// any record is produced.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Code returns CodeConfig.
func (e *ConfigError) Code() string { return CodeConfig }

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IntegrityError reports an event whose foreign keys do not resolve against
// the population it is aggregated with.
type IntegrityError struct {
	EventID string
	Ref     string
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("event %q: %s (%s)", e.EventID, e.Reason, e.Ref)
}

// Code returns CodeIntegrity.
func (e *IntegrityError) Code() string { return CodeIntegrity }

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsIntegrityError reports whether err wraps an *IntegrityError.
func IsIntegrityError(err error) bool {
	var target *IntegrityError
	return errors.As(err, &target)
}
