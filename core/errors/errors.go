// Package errors carries the kind-coded error taxonomy shared by the store,
// the repositories and the REST surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that map it to a transport response.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks malformed or out-of-range parameters, rejected
	// before any state changes.
	KindValidation
	// KindConflict marks an illegal state transition, e.g. cancel on a
	// terminal job or delete on an active one.
	KindConflict
	// KindNotFound marks an unknown job or experiment id.
	KindNotFound
	// KindStorage marks a persistence collaborator failure.
	KindStorage
)

// Error is a kind-coded error. Use the constructors below.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) error {
	return &Error{kind: KindConflict, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) error {
	return &Error{kind: KindStorage, msg: op, err: err}
}

// KindOf extracts the classification from err, KindUnknown when err is not
// kind-coded.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// HTTPStatus maps an error to the response status the REST surface returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
