package host

import "errors"

// Sentinel errors for the host package.
var (
	// ErrNotUIThread is returned when UI-owned state is touched from
	// another goroutine.
	ErrNotUIThread = errors.New("not on the UI goroutine")

	// ErrUnknownSession is returned for a session name with no spec.
	ErrUnknownSession = errors.New("unknown session")

	// ErrNotRunning is returned when controlling a stopped process.
	ErrNotRunning = errors.New("process not running")

	// ErrAlreadyRunning is returned when starting a running process.
	ErrAlreadyRunning = errors.New("process already running")
)
