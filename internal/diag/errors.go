// Package diag defines the failure taxonomy shared by every pipeline stage.
//
// Each stage reports failures as *Error values carrying a Code. The pipeline
// policy decides what to do with them: best-effort runs absorb
// ExpansionFailed and CompileFailed, while EncodingLoss and
// ConfigurationError abort every run. CleanupFailed is logged and never
// escalated.
package diag

import (
	"errors"
	"fmt"
)

// Code categorizes a pipeline failure.
type Code string

const (
	// ExpansionFailed indicates the expansion service exited non-zero or
	// produced no output.
	ExpansionFailed Code = "EXPANSION_FAILED"

	// EncodingLoss indicates the raw payload held characters that cannot be
	// carried into the canonical encoding without corruption.
	EncodingLoss Code = "ENCODING_LOSS"

	// ConfigurationError indicates malformed or duplicate feature/lint
	// identifiers, an unknown encoding label, or an invalid config file.
	ConfigurationError Code = "CONFIGURATION_ERROR"

	// CompileFailed indicates the compiler service exited non-zero.
	CompileFailed Code = "COMPILE_FAILED"

	// CleanupFailed indicates a scratch artifact could not be removed.
	CleanupFailed Code = "CLEANUP_FAILED"
)

// Fatal reports whether a failure with this code aborts the run under every
// policy.
func (c Code) Fatal() bool {
	return c == EncodingLoss || c == ConfigurationError
}

// Error is a classified pipeline failure.
type Error struct {
	// Code identifies the failure category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Diagnostics is output captured from an external service, verbatim.
	Diagnostics string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// DiagnosticsOf returns the captured external diagnostics of err, if any.
func DiagnosticsOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Diagnostics
	}
	return ""
}
