// Package apierr implements the closed error-code taxonomy and JSON error
// envelope used across the HTTP surface, grounded on the teacher's
// respondError/statusFromError pairing in internal/httpapi.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the closed set of error codes from the external interface.
type Code string

const (
	InvalidArgument   Code = "invalid_argument"
	Unauthenticated   Code = "unauthenticated"
	PermissionDenied  Code = "permission_denied"
	NotFound          Code = "not_found"
	Conflict          Code = "conflict"
	ResourceExhausted Code = "resource_exhausted"
	Timeout           Code = "timeout"
	Unavailable       Code = "unavailable"
	Internal          Code = "internal"
)

// Error is a structured API error carrying a Code, message, and optional
// details, the shape serialized into the {"error": {...}} envelope.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code to an underlying error, preserving it for Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of the error with Details attached.
func (e *Error) WithDetails(d map[string]any) *Error {
	cp := *e
	cp.Details = d
	return &cp
}

// CodeOf extracts the Code from err, defaulting to Internal when err is not
// (or does not wrap) an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}

// HTTPStatus maps a Code to the HTTP status the teacher's statusFromError
// would assign.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidArgument:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ResourceExhausted:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire shape of a non-2xx JSON response.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope renders err (wrapping non-*Error causes as Internal, and
// scrubbing the message to avoid leaking internals per §7).
func ToEnvelope(err error) Envelope {
	var ae *Error
	if errors.As(err, &ae) {
		return Envelope{Error: EnvelopeBody{Code: ae.Code, Message: ae.Message, Details: ae.Details}}
	}
	return Envelope{Error: EnvelopeBody{Code: Internal, Message: "internal error"}}
}
