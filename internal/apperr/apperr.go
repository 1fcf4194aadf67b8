package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry decisions and for reporting.
type Kind string

const (
	KindConfig          Kind = "config"
	KindAuth            Kind = "auth"
	KindTransient       Kind = "transient_network"
	KindBlocked         Kind = "blocked"
	KindAmbiguous       Kind = "ambiguous_result"
	KindIntegrity       Kind = "integrity"
	KindFormat          Kind = "format"
	KindNotFound        Kind = "not_found"
	KindAccountInactive Kind = "account_inactive"
	KindClassification  Kind = "classification"
)

// Error is the application error type. Op names the failing operation,
// Message is safe to show to a user.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error of the given kind around err.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err (or any error in its chain) is an *Error of kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return Is(err, KindTransient)
}

// HTTPStatus maps an error to the status code the API reports for it.
func HTTPStatus(err error) int {
	return KindStatus(KindOf(err))
}

// KindStatus is the status code for a kind. Unclassified is 500.
func KindStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindAccountInactive, KindBlocked:
		return http.StatusConflict
	case KindFormat:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusBadGateway
	case KindAmbiguous:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the human-readable part of err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
