// Package apierr defines the typed error-kind vocabulary from spec.md
// section 7, so callers can distinguish client-surfaced errors from
// fire-and-forget internal ones with errors.Is/errors.As instead of
// string matching.
package apierr

import "errors"

// Kind is the closed set of error kinds from spec.md section 7.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindAdapterStart        Kind = "adapter_start"
	KindAdapterParse        Kind = "adapter_parse"
	KindAdapterFatal        Kind = "adapter_fatal"
	KindTimeout             Kind = "timeout"
	KindOverflow            Kind = "overflow"
	KindInternal            Kind = "internal"
)

// Error wraps a Kind with a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
