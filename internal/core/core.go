// Package core builds the shared runtime every hostshim component uses.
//
// A Core is constructed once at startup and passed explicitly to whatever
// needs it. It owns exactly one worker pool, event bus, session registry,
// UI marshaler and hook installer.
package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/event"
	"github.com/dshills/hostshim/internal/hook"
	"github.com/dshills/hostshim/internal/session"
	"github.com/dshills/hostshim/internal/uithread"
	"github.com/dshills/hostshim/internal/worker"
)

// Core is the explicit runtime context.
type Core struct {
	cfg *config.Config
	log zerolog.Logger

	pool     *worker.Pool
	bus      *event.Bus
	sessions *session.Registry
	ui       *uithread.Marshaler
	hooks    *hook.Installer

	loop       atomic.Pointer[uithread.Loop]
	hookTarget func() *hook.Slot
	busOpts    []event.BusOption

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Core.
type Option func(*Core)

// WithHookTarget sets the function that locates the host's session factory
// slot. Without it automatic session capture is disabled.
func WithHookTarget(locate func() *hook.Slot) Option {
	return func(c *Core) {
		c.hookTarget = locate
	}
}

// WithBusOptions passes options through to the event bus.
func WithBusOptions(opts ...event.BusOption) Option {
	return func(c *Core) {
		c.busOpts = append(c.busOpts, opts...)
	}
}

// New wires the runtime. cfg may be nil, in which case defaults are used.
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) *Core {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Core{
		cfg: cfg,
		log: log.With().Str("component", "core").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.pool = worker.New(log, worker.WithWorkers(cfg.Workers), worker.WithName("hostshim"))
	c.bus = event.NewBus(c.pool, log, c.busOpts...)
	c.sessions = session.NewRegistry()
	c.ui = uithread.NewMarshaler(c.loop.Load)
	c.hooks = hook.NewInstaller(c.locateHookTarget, c.sessions, c.bus, log)

	c.log.Debug().Int("workers", c.pool.Workers()).Msg("core initialized")
	return c
}

func (c *Core) locateHookTarget() *hook.Slot {
	if c.hookTarget == nil {
		return nil
	}
	return c.hookTarget()
}

// AttachUI makes loop the UI goroutine the marshaler routes to. It must be
// called before the first marshaled call; a marshaler that already attached
// keeps its loop.
func (c *Core) AttachUI(loop *uithread.Loop) {
	c.loop.Store(loop)
}

// Loop returns the attached UI loop, or nil when headless.
func (c *Core) Loop() *uithread.Loop {
	return c.loop.Load()
}

// Headless reports whether no UI loop is attached.
func (c *Core) Headless() bool {
	return c.loop.Load() == nil
}

// Config returns the configuration the core was built with.
func (c *Core) Config() *config.Config { return c.cfg }

// Logger returns the root logger.
func (c *Core) Logger() zerolog.Logger { return c.log }

// Pool returns the worker pool.
func (c *Core) Pool() *worker.Pool { return c.pool }

// Bus returns the event bus.
func (c *Core) Bus() *event.Bus { return c.bus }

// Sessions returns the session registry.
func (c *Core) Sessions() *session.Registry { return c.sessions }

// UI returns the UI marshaler.
func (c *Core) UI() *uithread.Marshaler { return c.ui }

// Hooks returns the hook installer.
func (c *Core) Hooks() *hook.Installer { return c.hooks }

// Close stops accepting background work and waits for queued tasks to
// finish or ctx to end. It is safe to call more than once.
func (c *Core) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.pool.Close(ctx)
		stats := c.bus.Stats()
		inline, queued := c.ui.Stats()
		ev := c.log.Debug().
			Uint64("emitted", stats.Emitted).
			Uint64("faults", stats.Faults).
			Uint64("dropped", stats.Dropped).
			Uint64("captured", c.hooks.Captured()).
			Uint64("ui_inline", inline).
			Uint64("ui_queued", queued).
			Bool("ui_attached", c.ui.Attached())
		if loop := c.loop.Load(); loop != nil {
			ev = ev.Uint64("ui_executed", loop.Executed()).Int("ui_pending", loop.Pending())
		}
		ev.Msg("core closed")
	})
	return c.closeErr
}
