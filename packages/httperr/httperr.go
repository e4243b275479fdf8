// Package httperr defines the error taxonomy surfaced by the volley client
// engine and the classification of low-level transport failures into it.
package httperr

import (
	"errors"
	"fmt"
)

// Kind is the classified category of a request failure.
type Kind int

const (
	// KindUnknown is the zero value; classification never returns it for a
	// non-nil error, but it marks an Error constructed without a kind.
	KindUnknown Kind = iota

	// KindHostUnreachable covers name resolution and connect failures, and
	// any request issued against a destination whose pooled connection was
	// just invalidated by a remote close.
	KindHostUnreachable

	// KindConnectionAborted covers a remote close or reset of an
	// established connection mid-exchange.
	KindConnectionAborted

	// KindTimedOut covers expiry of the overall request timer or the
	// body-read timer before the governed operation completed.
	KindTimedOut

	// KindMalformedResponse covers transport success where the received
	// bytes could not be parsed as a valid HTTP message.
	KindMalformedResponse
)

// String returns the canonical name for the kind.
func (k Kind) String() string {
	switch k {
	case KindHostUnreachable:
		return "host_unreachable"
	case KindConnectionAborted:
		return "connection_aborted"
	case KindTimedOut:
		return "timed_out"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is the client-visible failure record: a fixed kind plus the
// underlying cause. Immutable once constructed.
type Error struct {
	Kind  Kind
	Cause error
}

// New builds an Error of the given kind wrapping cause. Cause may be nil.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Wrap classifies cause and returns it as an *Error. A cause that already is
// an *Error is returned unchanged so a kind assigned close to the failure
// site is never reclassified. Wrap(nil) returns nil.
func Wrap(cause error) error {
	if cause == nil {
		return nil
	}
	var he *Error
	if errors.As(cause, &he) {
		return cause
	}
	return &Error{Kind: Classify(cause), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same kind, so callers can compare against
// sentinel values like httperr.New(httperr.KindTimedOut, nil).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// KindOf returns the classified kind of err, or KindUnknown for nil. An err
// that is not an *Error is classified on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return Classify(err)
}
