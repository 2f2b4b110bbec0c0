// Package errs classifies fallible-operation outcomes across the position
// lifecycle engine so callers can branch on a kind rather than string-match
// underlying errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of retry/propagation decisions.
type Kind int

const (
	// KindNotFound means the target (position, signature, account) is gone.
	// Callers should treat the operation as a no-op, not an error.
	KindNotFound Kind = iota
	// KindValidation means the caller violated a state precondition.
	KindValidation
	// KindBuild means a route builder refused to build a transaction.
	KindBuild
	// KindSigningRefusal means the signer rejected the request on policy
	// grounds. Never retried.
	KindSigningRefusal
	// KindSubmission means a submission path (bundle or direct) failed.
	KindSubmission
	// KindConfirmTimeout means confirmation polling timed out.
	KindConfirmTimeout
	// KindRateLimited means the caller should back off.
	KindRateLimited
	// KindExternalAPI wraps an underlying transport/API error.
	KindExternalAPI
	// KindInternal means an invariant was violated. Log loudly, never crash.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindBuild:
		return "build"
	case KindSigningRefusal:
		return "signing_refusal"
	case KindSubmission:
		return "submission"
	case KindConfirmTimeout:
		return "confirm_timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindExternalAPI:
		return "external_api"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying a Kind and an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a classified error around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a classified *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error kind is conventionally safe to retry
// inside a bounded loop (spec §7 propagation policy).
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindBuild, KindConfirmTimeout, KindRateLimited, KindExternalAPI, KindSubmission:
		return true
	default:
		return false
	}
}
