// Package apperr defines the classified failures returned by the delivery
// subsystem. Storage and database errors are wrapped into an *Error with a
// Kind before they leave a component, so callers and HTTP handlers never see
// raw driver errors.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindAccessDenied    Kind = "access_denied"
	KindExpired         Kind = "expired"
	KindPartialFailure  Kind = "partial_failure"
	KindTimeout         Kind = "timeout"
	KindEmptyResult     Kind = "empty_result"
	KindBuildInProgress Kind = "build_in_progress"
	KindInvalid         Kind = "invalid"
	KindInternal        Kind = "internal"
)

// Sentinels usable with errors.Is. An *Error matches the sentinel of its Kind.
var (
	NotFound        = &Error{Kind: KindNotFound}
	AccessDenied    = &Error{Kind: KindAccessDenied}
	Expired         = &Error{Kind: KindExpired}
	PartialFailure  = &Error{Kind: KindPartialFailure}
	Timeout         = &Error{Kind: KindTimeout}
	EmptyResult     = &Error{Kind: KindEmptyResult}
	BuildInProgress = &Error{Kind: KindBuildInProgress}
	Invalid         = &Error{Kind: KindInvalid}
	Internal        = &Error{Kind: KindInternal}
)

// Error is a classified failure. Op names the operation that failed,
// Message is safe to show to a caller, Err is the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf classifies err with a formatted caller-safe message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Context
// deadlines map to KindTimeout and anything else unclassified to
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// MessageOf returns the caller-safe message of err. Unclassified errors get
// a generic message so storage details do not leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return describe(e.Kind)
	}
	return describe(KindOf(err))
}

func describe(k Kind) string {
	switch k {
	case KindNotFound:
		return "Resource not found"
	case KindAccessDenied:
		return "Access denied"
	case KindExpired:
		return "Resource has expired"
	case KindPartialFailure:
		return "Some files could not be included"
	case KindTimeout:
		return "Operation timed out"
	case KindEmptyResult:
		return "No files available"
	case KindBuildInProgress:
		return "A build is already in progress"
	case KindInvalid:
		return "Invalid request"
	default:
		return "Internal error"
	}
}
