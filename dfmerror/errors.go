// Package dfmerror defines the error taxonomy shared by the DFM services.
// Errors carry an HTTP-like status code so that the Process front-end and the
// runtime's ErrorResponse conversion agree on what each failure signals.
package dfmerror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a classified DFM failure.
type Error struct {
	// Code is the HTTP status the failure maps to.
	Code int
	// Message describes the failure.
	Message string
	// Cause is the wrapped underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// Data reports invalid client-supplied data (400).
func Data(format string, args ...any) *Error {
	return &Error{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// MissingImplementation reports an adapter method that is not implemented (501).
func MissingImplementation(format string, args ...any) *Error {
	return &Error{Code: http.StatusNotImplemented, Message: fmt.Sprintf(format, args...)}
}

// Resource reports an unavailable upstream dependency (503).
func Resource(format string, args ...any) *Error {
	return &Error{Code: http.StatusServiceUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Server reports an internal invariant violation (500).
func Server(format string, args ...any) *Error {
	return &Error{Code: http.StatusInternalServerError, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error while keeping its code.
func Wrap(e *Error, cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Cause: cause}
}

// StatusCode returns the HTTP status for err. Unclassified errors map to 500.
func StatusCode(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return http.StatusInternalServerError
}
