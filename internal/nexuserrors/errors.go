// Package nexuserrors implements the error taxonomy from spec.md §7: a
// closed set of kinds, not a type hierarchy, so every layer of the engine
// can make the same dispatch decision (retry never, surface vs. recover
// locally, poison the controller) from one field.
package nexuserrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from spec.md §7.
type Kind int

const (
	// Validation covers path parse, period misalignment, buffer size, and
	// missing-parameter errors. Surfaced synchronously; never retried.
	Validation Kind = iota
	// NotFound covers catalog, resource, representation, and cache-region
	// misses. Surfaced to the caller; never fatal to the engine.
	NotFound
	// ContextInit covers a source or writer refusing to initialize. The
	// instance is discarded; outer orchestration may retry with a new one.
	ContextInit
	// ConfigUpgrade covers a failed configuration upgrade hook.
	ConfigUpgrade
	// ExtensionRuntime covers an exception from a source/writer during
	// read/write. Fails the owning reading group only.
	ExtensionRuntime
	// ResourceExhaustion covers a memory tracker grant that could not be
	// satisfied within its deadline.
	ResourceExhaustion
	// Cancelled covers cooperative cancellation.
	Cancelled
	// Internal covers a broken invariant. Always fatal. A Source panic,
	// recovered as Internal, also poisons its source.Controller; other
	// Internal errors leave the controller's state unchanged.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case ContextInit:
		return "context_init"
	case ConfigUpgrade:
		return "config_upgrade"
	case ExtensionRuntime:
		return "extension_runtime"
	case ResourceExhaustion:
		return "resource_exhaustion"
	case Cancelled:
		return "cancelled"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a kinded error carrying an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
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

// Is reports whether err is a nexuserrors.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped
// errors — an untyped error escaping to the surface is itself a bug, but
// should still be treated as fatal rather than silently swallowed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
