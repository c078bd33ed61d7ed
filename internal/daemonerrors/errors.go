// Package daemonerrors defines the typed errors the daemon surfaces over
// the wire (spec §7) and the classification that turns any Go error
// returned from a request handler into one of them.
package daemonerrors

import "fmt"

// Kind is one of the wire error kinds spec §7 enumerates.
type Kind string

const (
	KindBadRequest  Kind = "bad_request"
	KindBadArgument Kind = "bad_argument"
	KindIOError     Kind = "io_error"
	KindDBError     Kind = "db_error"
	KindTimeout     Kind = "timeout"
	KindInternal    Kind = "internal"
)

// Error is a daemon error carrying a wire Kind and a human message,
// matching the shape the teacher's errors package uses (a typed error with
// Unwrap support) but keyed to this daemon's wire contract instead of
// indexing/parse/search error types.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Underlying: err}
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Underlying }

// BadRequest builds a bad_request error (malformed JSON or unknown
// command).
func BadRequest(format string, args ...interface{}) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}

// BadArgument builds a bad_argument error (missing/typed field, unknown
// bookmark).
func BadArgument(format string, args ...interface{}) *Error {
	return New(KindBadArgument, fmt.Sprintf(format, args...))
}

// IO builds an io_error, wrapping the underlying filesystem/socket error.
func IO(op string, err error) *Error {
	return Wrap(KindIOError, op, err)
}

// DBUnavailable builds a db_error for requests that mutate while the
// persistence writer is unhealthy (spec §7).
func DBUnavailable(err error) *Error {
	return Wrap(KindDBError, "persistence layer unavailable", err)
}

// Timeout builds a timeout error for a handler or read deadline overrun.
func Timeout(op string) *Error {
	return New(KindTimeout, op+" timed out")
}

// Internal builds an internal error for anything else unrecoverable.
func Internal(err error) *Error {
	return Wrap(KindInternal, "internal error", err)
}

// Classify turns any error into a wire (kind, message) pair. Errors not
// produced by this package classify as internal.
func Classify(err error) (Kind, string) {
	if err == nil {
		return "", ""
	}
	var de *Error
	if as(err, &de) {
		return de.Kind, de.Message
	}
	return KindInternal, err.Error()
}

// as is a local, allocation-free errors.As for the single type this
// package cares about, avoiding an import of the full errors package for
// one call site.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
