// Package fault defines the error taxonomy shared by every Placemint
// component. Adapter boundaries translate foreign errors into one of the
// kinds below; nothing in the core branches on third-party error types.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the tool envelope and for callers that need
// to distinguish outcomes without string matching.
type Kind string

const (
	// InvalidInput covers malformed requests: empty context, top_k out of
	// range, malformed boost maps, unknown filter operators.
	InvalidInput Kind = "invalid_input"

	// Unavailable covers transport failures talking to the embedding
	// provider, the vector index, or the analytics store.
	Unavailable Kind = "unavailable_dependency"

	// Timeout covers request deadline expiry.
	Timeout Kind = "timeout"

	// NotFound covers lookups of unknown match ids or creatives.
	NotFound Kind = "not_found"

	// PermissionDenied covers administrative operations on an unauthorized
	// surface.
	PermissionDenied Kind = "permission_denied"

	// Internal covers invariant violations. Never expected.
	Internal Kind = "internal"
)

// Error is a kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Wrapf tags an underlying error with a formatted message. Returns nil
// if err is nil.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, walking the wrap chain. Untagged errors
// report Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
