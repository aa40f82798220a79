package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event bus.
var (
	// ErrInvalidEvent is returned when a nil event is emitted.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnknownType is returned when subscribing to an unknown event type.
	ErrUnknownType = errors.New("unknown event type")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrSubscriptionNotFound is returned when unsubscribing an unknown token.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrHandlerPanic is matched by errors.Is for handlers that panicked.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError describes a handler fault. Faults are logged and reported to
// the fault handler; they never reach the emitter.
type HandlerError struct {
	// Token identifies the subscription whose handler failed.
	Token Token

	// Type is the event type being dispatched.
	Type Type

	// Background is true if the handler ran on the worker pool.
	Background bool

	// Err is the returned error, or a *PanicError.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s event: %v", e.Token, e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic value raised by a handler.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
