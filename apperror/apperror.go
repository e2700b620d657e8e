package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an error so the HTTP layer can pick a status code and body.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindExpired
	KindInvalidCode
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindInvalidCode:
		return "invalid_code"
	default:
		return "internal"
	}
}

// Error is the result type returned by the OTP service. msg is safe to show
// to the caller; err is the underlying cause and is only ever logged.
type Error struct {
	kind   Kind
	msg    string
	err    error
	fields map[string]string
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// Msg returns the user-facing message.
func (e *Error) Msg() string { return e.msg }

// Fields returns per-field validation messages, if any.
func (e *Error) Fields() map[string]string { return e.fields }

// StatusCode maps the kind to an HTTP status. Verification outcomes are
// ordinary results and travel as 200 with success=false.
func (e *Error) StatusCode() int {
	switch e.kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound, KindExpired, KindInvalidCode:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func NewValidation(msg string, fields map[string]string) error {
	return &Error{kind: KindValidation, msg: msg, fields: fields}
}

func NewNotFound(msg string) error {
	return &Error{kind: KindNotFound, msg: msg}
}

func NewExpired(msg string) error {
	return &Error{kind: KindExpired, msg: msg}
}

func NewInvalidCode(msg string) error {
	return &Error{kind: KindInvalidCode, msg: msg}
}

// NewInternal wraps a collaborator failure behind a generic message.
func NewInternal(err error, msg string) error {
	return &Error{kind: KindInternal, msg: msg, err: err}
}

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
