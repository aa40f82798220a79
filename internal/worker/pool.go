// Package worker provides the fixed-size background pool that runs everything
// which must not block the UI goroutine.
//
// Tasks queue without bound when every worker is busy and are picked up in
// FIFO order as workers free up. A task that returns an error or panics
// resolves its future with that error; the worker carries on with the next
// task.
//
//	pool := worker.New(log, worker.WithWorkers(4))
//	defer pool.Close(context.Background())
//
//	fut, err := pool.Submit(func(ctx context.Context) (any, error) {
//	    return fetch(ctx)
//	})
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/hostshim/internal/future"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 4

// Task is a unit of background work.
// ctx is the pool's own context; it is never the submitter's.
type Task func(ctx context.Context) (any, error)

type job struct {
	task Task
	fut  *future.Future[any]
}

// Pool executes tasks on a fixed set of worker goroutines.
type Pool struct {
	name    string
	workers int
	log     zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	closed bool
	wg     sync.WaitGroup

	baseCtx context.Context

	// Stats
	submitted   atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	active      atomic.Int64
	totalTimeNs atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithName sets the pool name used in log output.
func WithName(name string) Option {
	return func(p *Pool) {
		if name != "" {
			p.name = name
		}
	}
}

// New creates a pool and starts its workers.
func New(log zerolog.Logger, opts ...Option) *Pool {
	p := &Pool{
		name:    "hostshim",
		workers: DefaultWorkers,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = log.With().Str("component", "worker_pool").Str("pool", p.name).Logger()
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Workers returns the fixed worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit queues task and returns a future for its result. It never blocks.
func (p *Pool) Submit(task Task) (*future.Future[any], error) {
	if task == nil {
		return nil, ErrNilTask
	}

	fut := future.New[any]()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.queue = append(p.queue, job{task: task, fut: fut})
	p.mu.Unlock()

	p.submitted.Add(1)
	p.cond.Signal()
	return fut, nil
}

// Go submits a typed task to p.
func Go[T any](p *Pool, fn func(ctx context.Context) (T, error)) (*future.Future[T], error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	raw, err := p.Submit(func(ctx context.Context) (any, error) {
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

// Close rejects further submissions and waits for queued and running tasks
// to finish, or for ctx to be done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Debug().Msg("worker pool drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClosed reports whether Close has been called.
func (p *Pool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// worker pulls jobs until the pool is closed and the queue is empty.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue[0] = job{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(id, j)
	}
}

// run executes a single job with panic capture and resolves its future.
func (p *Pool) run(id int, j job) {
	p.active.Add(1)
	start := time.Now()
	defer func() {
		p.active.Add(-1)
		p.totalTimeNs.Add(time.Since(start).Nanoseconds())
		p.completed.Add(1)
	}()

	var (
		value any
		err   error
	)
	recovered := panics.Try(func() {
		value, err = j.task(p.baseCtx)
	})

	switch {
	case recovered != nil:
		p.panicked.Add(1)
		perr := &PanicError{Value: recovered.Value, Stack: recovered.Stack}
		p.log.Error().
			Int("worker", id).
			Interface("panic", recovered.Value).
			Bytes("stack", recovered.Stack).
			Msg("task panicked")
		j.fut.Resolve(nil, perr)
	case err != nil:
		p.failed.Add(1)
		j.fut.Resolve(nil, err)
	default:
		j.fut.Resolve(value, nil)
	}
}

// Stats contains pool statistics.
type Stats struct {
	Submitted   uint64
	Completed   uint64
	Failed      uint64
	Panicked    uint64
	Active      int64
	QueueDepth  int
	AvgDuration time.Duration
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	depth := len(p.queue)
	p.mu.Unlock()

	completed := p.completed.Load()
	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(p.totalTimeNs.Load() / int64(completed))
	}

	return Stats{
		Submitted:   p.submitted.Load(),
		Completed:   completed,
		Failed:      p.failed.Load(),
		Panicked:    p.panicked.Load(),
		Active:      p.active.Load(),
		QueueDepth:  depth,
		AvgDuration: avg,
	}
}
