// Package interfaces defines the shared error contracts between the gateway
// core and the HTTP layer.
package interfaces

import (
	"errors"
	"net/http"
)

// ErrorMessage encapsulates an error with an associated HTTP status code.
// It is the envelope every handler-facing failure travels in.
type ErrorMessage struct {
	// StatusCode is the HTTP status code to return to the caller.
	StatusCode int

	// Error is the underlying error that occurred.
	Error error

	// Addon contains additional headers to be added to the response.
	Addon http.Header
}

// NewErrorMessage wraps err with the given status code.
func NewErrorMessage(statusCode int, err error) *ErrorMessage {
	return &ErrorMessage{StatusCode: statusCode, Error: err}
}

// StatusError is implemented by errors that carry an HTTP-like status code,
// typically upstream failures. The orchestrator uses it to decide surfacing.
type StatusError interface {
	error
	StatusCode() int
}

// ValidationError reports a malformed inbound request or a payload that failed
// the structural check before dispatch. Always local, never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNoCredential indicates the pool has no credential holding any token.
var ErrNoCredential = errors.New("credential pool: no credential holds a usable token")

// AsValidation reports whether err is (or wraps) a ValidationError.
func AsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
