// Package berror defines the error kinds used across the routing core
// (§7): Transient, ProtocolViolation, NotFound, StaleLoad, and Fatal. Each
// kind drives a specific propagation policy -- retry, close-with-code,
// log-and-drop, send-Unload, or log-and-terminate-the-task -- never a
// process exit outside of startup failures.
package berror

import "errors"

// Kind classifies an error for the purposes of §7's propagation policy.
type Kind int

const (
	// Transient errors retry with backoff (dial failures, DNS).
	Transient Kind = iota
	// ProtocolViolation errors close the peer with a specific code and do
	// not retry the session.
	ProtocolViolation
	// NotFound means a client/room/monolith referenced by an event is
	// missing from the context; the caller logs and drops the event.
	NotFound
	// StaleLoad marks the losing side of add-or-sync arbitration; the
	// caller sends Unload to the source monolith.
	StaleLoad
	// Fatal covers unrecoverable local conditions (closed channel,
	// poisoned state); the caller logs and terminates only its own task.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case ProtocolViolation:
		return "protocol_violation"
	case NotFound:
		return "not_found"
	case StaleLoad:
		return "stale_load"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error pairs a message with a Kind so callers can branch on
// errors.As(err, &berror.Error{}) without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kinded error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a kinded error wrapping a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
