package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the retry, breaker and reporting layers
// can act on it without inspecting messages.
type ErrorKind string

const (
	// Authentication failures
	KindInvalidCredentials  ErrorKind = "invalid_credentials"
	KindExpired             ErrorKind = "expired"
	KindProviderUnavailable ErrorKind = "provider_unavailable"

	// Transport failures
	KindTimeout         ErrorKind = "timeout"
	KindConnectionReset ErrorKind = "connection_reset"
	KindServerError     ErrorKind = "server_error"

	// Remote script failures
	KindMalformedCiphertext   ErrorKind = "malformed_ciphertext"
	KindScriptExecutionFailed ErrorKind = "script_execution_failed"

	KindCircuitOpen ErrorKind = "circuit_open"
	KindBatchParse  ErrorKind = "batch_parse"
	KindCancelled   ErrorKind = "cancelled"
	KindUnknown     ErrorKind = "unknown"
)

// ErrorCategory groups kinds into the families reported to users.
type ErrorCategory string

const (
	CategoryAuth      ErrorCategory = "auth"
	CategoryTransport ErrorCategory = "transport"
	CategoryRemote    ErrorCategory = "remote"
	CategoryCircuit   ErrorCategory = "circuit"
	CategoryParse     ErrorCategory = "parse"
	CategoryOther     ErrorCategory = "other"
)

// Category returns the family the kind belongs to
func (k ErrorKind) Category() ErrorCategory {
	switch k {
	case KindInvalidCredentials, KindExpired, KindProviderUnavailable:
		return CategoryAuth
	case KindTimeout, KindConnectionReset, KindServerError:
		return CategoryTransport
	case KindMalformedCiphertext, KindScriptExecutionFailed:
		return CategoryRemote
	case KindCircuitOpen:
		return CategoryCircuit
	case KindBatchParse:
		return CategoryParse
	default:
		return CategoryOther
	}
}

// Transient reports whether a failed attempt of this kind may succeed when retried.
// Only transport failures qualify.
func (k ErrorKind) Transient() bool {
	return k.Category() == CategoryTransport
}

// Error is the typed error carried through the decrypt pipeline
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates a new typed error
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a typed error around an underlying cause
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, models.NewError(KindTimeout, "")) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err. Untyped errors are KindUnknown, nil is "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// AsError converts any error into a typed *Error, keeping an existing kind
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(KindUnknown, "unexpected failure", err)
}
