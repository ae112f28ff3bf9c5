package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRecord is returned when a record hash is already stored.
	ErrDuplicateRecord = errors.New("duplicate record")

	// ErrMalformedRecord is returned when a record fails validation.
	ErrMalformedRecord = errors.New("malformed record")
)

// DataIntegrityError reports a record rejected at append time.
// The store is left unchanged; callers may log and skip the record.
type DataIntegrityError struct {
	Hash string
	Err  error
}

func (e *DataIntegrityError) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("data integrity: %v", e.Err)
	}
	return fmt.Sprintf("data integrity: record %s: %v", e.Hash, e.Err)
}

func (e *DataIntegrityError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a missing or out-of-range detector parameter.
type ConfigurationError struct {
	// Param is the dotted configuration path, e.g. "anomaly.frequency.window".
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Param, e.Reason)
}

// Misconfigured builds a ConfigurationError with a formatted reason.
func Misconfigured(param, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Param: param, Reason: fmt.Sprintf(format, args...)}
}
