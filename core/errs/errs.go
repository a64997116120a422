// Package errs defines the typed errors raised by controllers.
//
// Errors carry a kind and a message. The message travels verbatim to the
// caller; the kind tells the transport binding which status class to use.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind int

// all error kinds
const (
	KindBadRequest Kind = iota + 1
	KindNotFound
	KindInternal
)

// Error is a typed error with a client-visible message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// BadRequest returns a new error of kind BadRequest.
func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a new error of kind NotFound.
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Message: "Not Found"}
}

// NotFoundf returns a new error of kind NotFound with a custom message.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal returns a new error of kind Internal.
func Internal(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsBadRequest reports whether err is of kind BadRequest.
func IsBadRequest(err error) bool {
	return KindOf(err) == KindBadRequest
}

// IsNotFound reports whether err is of kind NotFound.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// HTTPStatus maps an error to the HTTP status code the transport binding
// should answer with. Untyped errors map to a generic server error.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
