// Package apperr classifies failures so transports can map them to
// responses without inspecting messages.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindBindingViolation
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBindingViolation:
		return "binding_violation"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error carries a Kind, a caller-facing message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func Conflict(msg string) error { return &Error{Kind: KindConflict, Msg: msg} }

func BindingViolation(msg string) error { return &Error{Kind: KindBindingViolation, Msg: msg} }

// Storage wraps a backend failure. A nil cause yields nil.
func Storage(msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the caller-facing message, or fallback when err is not an *Error.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return fallback
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBindingViolation:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
