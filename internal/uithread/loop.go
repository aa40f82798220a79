// Package uithread serializes work onto the single goroutine that owns UI and
// session state.
//
// A Loop is a single-consumer queue of callables. Exactly one goroutine, the
// UI goroutine, consumes it: either by handing itself over to Run, or by
// calling Drain from inside its own event loop whenever the waker fires.
// Callables run one at a time, each to completion before the next.
//
// Go has no notion of thread identity, so the loop marks the context it hands
// to callables. A Marshaler that sees that mark runs the callable in place
// instead of queueing it, which is what keeps UI code that needs a marshaled
// call from deadlocking on itself. The marked context must stay on the UI
// goroutine.
package uithread

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/hostshim/internal/future"
)

// Func is a callable marshaled onto the UI goroutine.
type Func func(ctx context.Context) (any, error)

type call struct {
	fn  Func
	fut *future.Future[any]
}

type uiKey struct{}

// Loop is the UI goroutine's queue of pending callables.
type Loop struct {
	mu     sync.Mutex
	queue  []*call
	closed bool

	wake  chan struct{}
	waker func()

	running   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	executed atomic.Uint64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithWaker sets a function invoked after every enqueue. Hosts that run their
// own event loop use it to schedule a Drain on the UI goroutine.
// The waker runs on the enqueuing goroutine and must not block.
func WithWaker(fn func()) LoopOption {
	return func(l *Loop) {
		l.waker = fn
	}
}

// NewLoop creates an empty loop.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bind returns ctx marked as belonging to this loop's UI goroutine.
// Only code actually running on the UI goroutine may use the result.
func (l *Loop) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, uiKey{}, l)
}

// OnUIThread reports whether ctx was bound to l.
func OnUIThread(ctx context.Context, l *Loop) bool {
	if ctx == nil || l == nil {
		return false
	}
	owner, _ := ctx.Value(uiKey{}).(*Loop)
	return owner == l
}

// Run consumes the queue on the calling goroutine until ctx is done or the
// loop is closed. Pending calls then fail with ErrLoopClosed or ctx's error.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	uiCtx := l.Bind(ctx)
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
			l.drain(uiCtx)
		}
	}
}

// Drain runs the calls queued at the moment of the call on the calling
// goroutine and returns how many ran. Calls enqueued by those callables are
// left for the next turn.
func (l *Loop) Drain(ctx context.Context) int {
	return l.drain(l.Bind(ctx))
}

func (l *Loop) drain(uiCtx context.Context) int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for i, c := range batch {
		l.execute(uiCtx, c)
		batch[i] = nil
	}
	return len(batch)
}

// execute runs one call and resolves its future.
func (l *Loop) execute(uiCtx context.Context, c *call) {
	var (
		value any
		err   error
	)
	if recovered := panics.Try(func() {
		value, err = c.fn(uiCtx)
	}); recovered != nil {
		err = &PanicError{Value: recovered.Value, Stack: recovered.Stack}
		value = nil
	}
	l.executed.Add(1)
	c.fut.Resolve(value, err)
}

// enqueue appends fn to the queue and wakes the consumer.
func (l *Loop) enqueue(fn Func) (*future.Future[any], error) {
	c := &call{fn: fn, fut: future.New[any]()}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLoopClosed
	}
	l.queue = append(l.queue, c)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	if l.waker != nil {
		l.waker()
	}
	return c.fut, nil
}

// Close stops the loop. Queued calls fail with ErrLoopClosed.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		pending := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, c := range pending {
			c.fut.Resolve(nil, ErrLoopClosed)
		}
		close(l.done)
	})
}

// IsClosed reports whether the loop has been closed.
func (l *Loop) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Pending returns the number of queued calls.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Executed returns the number of calls run so far.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}
