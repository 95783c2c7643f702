package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindState          ErrorKind = "state"
	KindPersistence    ErrorKind = "persistence"
)

// Error is the failure returned by every lifecycle operation. Message is
// safe to show to the caller.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

var ErrNotAuthenticated = &Error{Kind: KindAuthentication, Message: "Not authenticated"}

func Unauthorized(msg string) error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a store failure; the low-level text is appended to msg.
func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindPersistence for foreign errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindPersistence
}
