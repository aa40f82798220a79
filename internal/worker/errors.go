package worker

import (
	"errors"
	"fmt"
)

// Sentinel errors for the worker package.
var (
	// ErrPoolClosed is returned when a task is submitted after Close.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrTaskPanic is matched by errors.Is for tasks that panicked.
	ErrTaskPanic = errors.New("task panicked")

	// ErrNilTask is returned when a nil task is submitted.
	ErrNilTask = errors.New("task cannot be nil")
)

// PanicError wraps a recovered panic value as an error.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrTaskPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrTaskPanic
}
