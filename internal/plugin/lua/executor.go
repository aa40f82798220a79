package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// call is one unit of work for the executor goroutine.
type call struct {
	fn     func(s *State) error
	result chan error // nil for posted calls
}

// Executor serializes all work on a State through one goroutine.
//
// Event handlers may fire from the UI goroutine and from any pool worker at
// once. Each of them hands its Lua work to the executor and, for Do, waits
// for the result.
//
//	exec := NewExecutor(state, log, 0)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	err := exec.Do(ctx, func(s *State) error {
//	    return s.DoString(ctx, "x = 1")
//	})
type Executor struct {
	state *State
	log   zerolog.Logger
	queue chan call

	closed    atomic.Bool
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// NewExecutor creates an executor for state. queueSize <= 0 selects 100.
func NewExecutor(state *State, log zerolog.Logger, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Executor{
		state:  state,
		log:    log,
		queue:  make(chan call, queueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Run processes calls until ctx is done or Close is called. Calls still
// queued at that point fail with ErrExecutorClosed.
func (e *Executor) Run(ctx context.Context) {
	defer close(e.exited)
	for {
		// Close wins over queued work.
		select {
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		default:
		}

		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			e.finish(c, e.execute(c))
		}
	}
}

// execute runs one call with panic recovery.
func (e *Executor) execute(c call) (err error) {
	if recovered := panics.Try(func() { err = c.fn(e.state) }); recovered != nil {
		return fmt.Errorf("lua call panicked: %v", recovered.Value)
	}
	return err
}

func (e *Executor) finish(c call, err error) {
	if c.result != nil {
		c.result <- err
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("posted lua call failed")
	}
}

func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			e.finish(c, err)
		default:
			return
		}
	}
}

// Do runs fn on the executor goroutine and waits for it. If ctx ends first,
// Do returns ctx.Err() and the call still runs later.
func (e *Executor) Do(ctx context.Context, fn func(s *State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := call{fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.result:
		return err
	case <-e.exited:
		select {
		case err := <-c.result:
			return err
		default:
			return ErrExecutorClosed
		}
	}
}

// Post queues fn without waiting. Failures are logged.
func (e *Executor) Post(fn func(s *State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- call{fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Exited is closed when Run returns.
func (e *Executor) Exited() <-chan struct{} {
	return e.exited
}

// Close stops accepting calls. Run returns after the current call.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed reports whether Close was called.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
