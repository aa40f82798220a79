package adapter

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session facade.
var (
	// ErrUnknownSession is returned when the catalog has no session by that name.
	ErrUnknownSession = errors.New("unknown session")

	// ErrNotRunning is returned when no live handle is registered for a session.
	ErrNotRunning = errors.New("session not running")

	// ErrGated is matched by errors.Is when the host refused a launch because
	// a precondition is unmet.
	ErrGated = errors.New("session launch gated")

	// ErrNoLauncher is returned when the host exposes no session factory.
	ErrNoLauncher = errors.New("host has no session factory")

	// ErrUnsupported is returned when a handle lacks the requested control.
	ErrUnsupported = errors.New("operation not supported by session")
)

// GateError carries the host's reason for refusing a launch.
type GateError struct {
	Session string
	Reason  string
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("session %s gated: %s", e.Session, e.Reason)
}

// Is allows errors.Is to match GateError with ErrGated.
func (e *GateError) Is(target error) bool {
	return target == ErrGated
}
