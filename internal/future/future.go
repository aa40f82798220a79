// Package future provides a single-assignment result slot shared between the
// goroutine that produces a value and any number of goroutines waiting for it.
package future

import (
	"context"
	"sync"
)

// Future holds the eventual result of an asynchronous computation.
// It is resolved exactly once; later resolutions are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New creates an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a future that already holds value and err.
func Resolved[T any](value T, err error) *Future[T] {
	f := New[T]()
	f.Resolve(value, err)
	return f
}

// Resolve stores the result and wakes all waiters.
// Returns false if the future was already resolved.
func (f *Future[T]) Resolve(value T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has been resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx is done.
// A ctx error abandons the wait only; the computation is not cancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the future resolves.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Map returns a future that resolves with fn applied to f's value.
// Errors pass through unchanged.
func Map[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	out := New[U]()
	go func() {
		v, err := f.Result()
		if err != nil {
			var zero U
			out.Resolve(zero, err)
			return
		}
		out.Resolve(fn(v), nil)
	}()
	return out
}
