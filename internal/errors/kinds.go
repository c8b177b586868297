package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the API boundary. Every error that crosses a
// package boundary carries exactly one kind so handlers can map it to a status
// code without inspecting message text.
type Kind string

const (
	// KindMissingField indicates a required input field was absent.
	KindMissingField Kind = "missing_field"
	// KindInvalidInput indicates a malformed or out-of-domain input value.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound indicates the entity does not exist.
	KindNotFound Kind = "not_found"
	// KindNotFoundOrForbidden indicates the entity is absent or belongs to
	// another organization. The two cases are deliberately conflated so a
	// caller cannot probe for entities in foreign tenants.
	KindNotFoundOrForbidden Kind = "not_found_or_forbidden"
	// KindUnavailable indicates the storage layer timed out or is unreachable.
	KindUnavailable Kind = "unavailable"
	// KindInternal indicates an unexpected failure.
	KindInternal Kind = "internal"
)

// Error is a classified application error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error with a caller-safe message.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an underlying error. The message is caller-safe; the wrapped
// error is for logs only and never crosses the API boundary.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// MissingField reports an absent required field.
func MissingField(field string) *Error {
	return &Error{Kind: KindMissingField, Msg: fmt.Sprintf("missing required field: %s", field)}
}

// InvalidInput reports a malformed input value.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// reported as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-safe message from a classified error, or a
// generic message for unclassified errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
