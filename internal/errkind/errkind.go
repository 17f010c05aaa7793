// Package errkind holds the bridge's stable error-kind vocabulary (spec
// §7) and a typed error that carries one.
package errkind

import "fmt"

// Kind is a stable error classification surfaced in response frames and
// in the run_python result envelope. The string values are part of the
// wire contract; they must never change once a client depends on them.
type Kind string

const (
	InvalidRequest        Kind = "invalid_request"
	UnknownServer         Kind = "unknown_server"
	DownstreamUnavailable Kind = "downstream_unavailable"
	DownstreamError       Kind = "downstream_error"
	SandboxTimeout        Kind = "sandbox_timeout"
	SandboxCrash          Kind = "sandbox_crash"
	RuntimeUnavailable    Kind = "runtime_unavailable"
	ProtocolError         Kind = "protocol_error"
)

// Error wraps an underlying cause with a stable Kind.
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

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
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
