package uithread

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/hostshim/internal/future"
)

// Marshaler routes callables onto the UI goroutine. It is the only legal way
// for a worker goroutine to touch UI-owned state.
type Marshaler struct {
	resolve func() *Loop
	loop    atomic.Pointer[Loop]

	inline atomic.Uint64
	queued atomic.Uint64
}

// NewMarshaler creates a marshaler that attaches to the loop returned by
// resolve on first use. resolve may return nil while no UI exists yet.
func NewMarshaler(resolve func() *Loop) *Marshaler {
	return &Marshaler{resolve: resolve}
}

// attach returns the bound loop, binding it lazily.
func (m *Marshaler) attach() (*Loop, error) {
	if l := m.loop.Load(); l != nil {
		return l, nil
	}
	if m.resolve == nil {
		return nil, ErrNoUIContext
	}
	l := m.resolve()
	if l == nil {
		return nil, ErrNoUIContext
	}
	if !m.loop.CompareAndSwap(nil, l) {
		return m.loop.Load(), nil
	}
	return l, nil
}

// Attached reports whether the marshaler has bound to a loop.
func (m *Marshaler) Attached() bool {
	return m.loop.Load() != nil
}

// Call runs fn on the UI goroutine and returns its result.
// From the UI goroutine itself fn runs in place. Otherwise the calling
// goroutine blocks until the UI goroutine has run fn, or until ctx is done;
// in the latter case fn still runs, only the wait is abandoned.
func (m *Marshaler) Call(ctx context.Context, fn Func) (any, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	l, err := m.attach()
	if err != nil {
		return nil, err
	}
	if OnUIThread(ctx, l) {
		m.inline.Add(1)
		return runInPlace(ctx, fn)
	}

	fut, err := l.enqueue(fn)
	if err != nil {
		return nil, err
	}
	m.queued.Add(1)
	return fut.Wait(ctx)
}

// Post queues fn on the UI goroutine and returns without waiting.
// From the UI goroutine itself fn runs in place and the returned future is
// already resolved.
func (m *Marshaler) Post(ctx context.Context, fn Func) (*future.Future[any], error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	l, err := m.attach()
	if err != nil {
		return nil, err
	}
	if OnUIThread(ctx, l) {
		m.inline.Add(1)
		v, err := runInPlace(ctx, fn)
		return future.Resolved[any](v, err), nil
	}

	fut, err := l.enqueue(fn)
	if err != nil {
		return nil, err
	}
	m.queued.Add(1)
	return fut, nil
}

// runInPlace runs fn on the current (UI) goroutine with the same panic
// capture the loop applies to queued calls.
func runInPlace(ctx context.Context, fn Func) (value any, err error) {
	if recovered := panics.Try(func() {
		value, err = fn(ctx)
	}); recovered != nil {
		return nil, &PanicError{Value: recovered.Value, Stack: recovered.Stack}
	}
	return value, err
}

// Stats returns how many calls ran in place and how many were queued.
func (m *Marshaler) Stats() (inline, queued uint64) {
	return m.inline.Load(), m.queued.Load()
}

// Invoke is the typed form of Marshaler.Call.
func Invoke[T any](ctx context.Context, m *Marshaler, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, ErrNilFunc
	}
	v, err := m.Call(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// InvokeAsync is the typed form of Marshaler.Post.
func InvokeAsync[T any](ctx context.Context, m *Marshaler, fn func(ctx context.Context) (T, error)) (*future.Future[T], error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	raw, err := m.Post(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}
	return future.Map(raw, func(v any) T {
		t, _ := v.(T)
		return t
	}), nil
}
