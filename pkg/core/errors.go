package core

import (
	"errors"
	"fmt"
)

// Error is the engine's typed error. Every fault is contained at the
// component boundary where it occurs and surfaced as one of these.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrTransport covers handshake failures and mid-session disconnects.
	ErrTransport ErrorType = "transport_error"
	// ErrResolution means an update referenced an unknown deduction.
	ErrResolution ErrorType = "resolution_error"
	// ErrMalformedAudit means an audit batch could not be decoded or validated.
	ErrMalformedAudit ErrorType = "malformed_audit_error"
	// ErrCapture covers missing frames, audio blocks or devices.
	ErrCapture ErrorType = "capture_error"
	// ErrInvalidRequest means an update or call carried invalid arguments.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	// ErrAuditInFlight is returned when an audit trigger is dropped.
	ErrAuditInFlight ErrorType = "audit_in_flight"
)

// NewTransportError creates a transport error wrapping cause.
func NewTransportError(message string, cause error) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
		Cause:   cause,
	}
}

// NewResolutionError creates a resolution miss for ref.
func NewResolutionError(ref string) *Error {
	return &Error{
		Type:    ErrResolution,
		Message: fmt.Sprintf("no deduction matches %q", ref),
		Param:   ref,
	}
}

// NewMalformedAuditError creates a malformed audit error.
func NewMalformedAuditError(message string, cause error) *Error {
	return &Error{
		Type:    ErrMalformedAudit,
		Message: message,
		Cause:   cause,
	}
}

// NewCaptureError creates a capture error.
func NewCaptureError(message string) *Error {
	return &Error{
		Type:    ErrCapture,
		Message: message,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuditInFlightError reports a dropped audit trigger.
func NewAuditInFlightError() *Error {
	return &Error{
		Type:    ErrAuditInFlight,
		Message: "an audit is already running",
	}
}

// IsType reports whether err is, or wraps, a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}
