package uithread

import (
	"errors"
	"fmt"
)

// Sentinel errors for the uithread package.
var (
	// ErrNoUIContext is returned when a call is marshaled before any UI loop exists.
	ErrNoUIContext = errors.New("no UI context: UI loop is not available")

	// ErrLoopClosed is returned for calls that reach a closed loop.
	ErrLoopClosed = errors.New("UI loop is closed")

	// ErrLoopRunning is returned when Run is called on a loop that is already running.
	ErrLoopRunning = errors.New("UI loop is already running")

	// ErrCallPanic is matched by errors.Is for marshaled calls that panicked.
	ErrCallPanic = errors.New("marshaled call panicked")

	// ErrNilFunc is returned when a nil callable is marshaled.
	ErrNilFunc = errors.New("callable cannot be nil")
)

// PanicError wraps a panic raised by a marshaled callable.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("marshaled call panicked: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrCallPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrCallPanic
}
