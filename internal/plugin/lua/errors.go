package lua

import "errors"

// Errors for Lua runtime operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutorClosed is returned when the executor no longer accepts work.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrQueueFull is returned by Post when the executor queue is full.
	ErrQueueFull = errors.New("lua executor queue full")

	// ErrNotFunction is returned when a called global is not a function.
	ErrNotFunction = errors.New("not a lua function")

	// ErrExecutionTimeout is returned when a chunk runs past its deadline.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrRuntimeLoaded is returned when Load is called twice on a runtime.
	ErrRuntimeLoaded = errors.New("lua runtime already loaded")
)
