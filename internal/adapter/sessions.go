// Package adapter exposes goroutine-safe session controls to plugins.
//
// Every method that touches a host session handle is routed through the UI
// marshaler, so the facade may be used from any goroutine. Each control has
// a synchronous form, meant for worker goroutines, and an asynchronous form
// that runs the synchronous one on the worker pool and returns a future.
package adapter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/core"
	"github.com/dshills/hostshim/internal/future"
	"github.com/dshills/hostshim/internal/hook"
	"github.com/dshills/hostshim/internal/uithread"
	"github.com/dshills/hostshim/internal/worker"
)

// Catalog lists the sessions the host knows how to launch.
type Catalog interface {
	Lookup(name string) (hook.Launcher, bool)
	Names() []string
}

// Controller is implemented by session handles that can be driven. Its
// methods are only ever called on the UI goroutine.
type Controller interface {
	Running() bool
	Stop() error
	Kill() error
	Restart() error
	Send(line string) error
}

// ProcessInfo is implemented by handles backed by an OS process.
type ProcessInfo interface {
	PID() int
	ExitCode() (code int, exited bool)
}

// State is the coarse lifecycle state of a session.
type State string

// Session states.
const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateCrashed State = "crashed"
)

// Status is a snapshot of one session.
type Status struct {
	Name     string
	State    State
	PID      int
	ExitCode int
	Exited   bool
}

// Sessions is the session control facade.
type Sessions struct {
	core    *core.Core
	catalog Catalog
	slot    *hook.Slot
	notify  Notifier
	log     zerolog.Logger
}

// Option configures Sessions.
type Option func(*Sessions)

// WithNotifier sets where user-facing failures are reported.
func WithNotifier(n Notifier) Option {
	return func(s *Sessions) {
		s.notify = n
	}
}

// New creates the facade. slot is the host's session factory; launches go
// through it so that an installed hook sees them.
func New(c *core.Core, catalog Catalog, slot *hook.Slot, opts ...Option) *Sessions {
	s := &Sessions{
		core:    c,
		catalog: catalog,
		slot:    slot,
		log:     c.Logger().With().Str("component", "sessions").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notify == nil {
		s.notify = NewLogNotifier(c.Logger())
	}
	return s
}

// Names lists launchable sessions.
func (s *Sessions) Names() []string {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Names()
}

// StartSession launches name on the UI goroutine and captures the result.
// A launch refused by the host returns an error matching ErrGated.
func (s *Sessions) StartSession(ctx context.Context, name string) error {
	var l hook.Launcher
	var ok bool
	if s.catalog != nil {
		l, ok = s.catalog.Lookup(name)
	}
	if !ok {
		s.notify.Notify(LevelError, "", fmt.Sprintf("session %q not found", name))
		return fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	if s.slot == nil {
		s.notify.Notify(LevelError, "", "host cannot launch sessions")
		return ErrNoLauncher
	}

	if !s.core.Hooks().Install() {
		s.log.Debug().Str("session", name).Msg("factory hook unavailable; capturing directly")
	}

	result, err := s.core.UI().Call(ctx, func(ctx context.Context) (any, error) {
		return s.slot.Invoke(ctx, l)
	})
	if err != nil {
		s.notify.Notify(LevelError, "", fmt.Sprintf("failed to start session %q: %v", name, err))
		return fmt.Errorf("start %s: %w", name, err)
	}

	if gate, ok := result.(hook.Gate); ok {
		s.notify.Notify(LevelWarning, "", fmt.Sprintf("session %q cannot start: %s", name, gate.GateReason()))
		return &GateError{Session: name, Reason: gate.GateReason()}
	}

	s.core.Hooks().HookSession(result, name)
	s.log.Info().Str("session", name).Msg("session started")
	return nil
}

// StopSession asks name to stop, or kills it when force is set.
func (s *Sessions) StopSession(ctx context.Context, name string, force bool) error {
	op := "stop"
	if force {
		op = "kill"
	}
	return s.control(ctx, name, op, func(c Controller) error {
		if force {
			return c.Kill()
		}
		return c.Stop()
	})
}

// RestartSession restarts name.
func (s *Sessions) RestartSession(ctx context.Context, name string) error {
	return s.control(ctx, name, "restart", Controller.Restart)
}

// CommandSession writes line to name's input.
func (s *Sessions) CommandSession(ctx context.Context, name, line string) error {
	return s.control(ctx, name, "command", func(c Controller) error {
		return c.Send(line)
	})
}

// SessionStatus reports the state of name. A session with no registered
// handle is stopped.
func (s *Sessions) SessionStatus(ctx context.Context, name string) (Status, error) {
	h, ok := s.core.Sessions().Get(name)
	if !ok {
		return Status{Name: name, State: StateStopped}, nil
	}

	return uithread.Invoke(ctx, s.core.UI(), func(ctx context.Context) (Status, error) {
		st := Status{Name: name, State: StateStopped}
		if c, ok := h.(Controller); ok && c.Running() {
			st.State = StateRunning
		}
		if p, ok := h.(ProcessInfo); ok {
			st.PID = p.PID()
			st.ExitCode, st.Exited = p.ExitCode()
			if st.State == StateStopped && st.Exited && st.ExitCode != 0 {
				st.State = StateCrashed
			}
		}
		return st, nil
	})
}

func (s *Sessions) control(ctx context.Context, name, op string, fn func(Controller) error) error {
	h, ok := s.core.Sessions().Get(name)
	if !ok {
		s.notify.Notify(LevelWarning, "", fmt.Sprintf("session %q is not running", name))
		return fmt.Errorf("%s %s: %w", op, name, ErrNotRunning)
	}
	c, ok := h.(Controller)
	if !ok {
		return fmt.Errorf("%s %s: %w", op, name, ErrUnsupported)
	}

	_, err := s.core.UI().Call(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(c)
	})
	if err != nil {
		s.notify.Notify(LevelError, "", fmt.Sprintf("failed to %s session %q: %v", op, name, err))
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	return nil
}

// Start runs StartSession on the worker pool.
func (s *Sessions) Start(name string) (*future.Future[struct{}], error) {
	return s.background(func(ctx context.Context) error {
		return s.StartSession(ctx, name)
	})
}

// Stop runs StopSession on the worker pool.
func (s *Sessions) Stop(name string, force bool) (*future.Future[struct{}], error) {
	return s.background(func(ctx context.Context) error {
		return s.StopSession(ctx, name, force)
	})
}

// Restart runs RestartSession on the worker pool.
func (s *Sessions) Restart(name string) (*future.Future[struct{}], error) {
	return s.background(func(ctx context.Context) error {
		return s.RestartSession(ctx, name)
	})
}

// Command runs CommandSession on the worker pool.
func (s *Sessions) Command(name, line string) (*future.Future[struct{}], error) {
	return s.background(func(ctx context.Context) error {
		return s.CommandSession(ctx, name, line)
	})
}

// Status runs SessionStatus on the worker pool.
func (s *Sessions) Status(name string) (*future.Future[Status], error) {
	return worker.Go(s.core.Pool(), func(ctx context.Context) (Status, error) {
		return s.SessionStatus(ctx, name)
	})
}

func (s *Sessions) background(fn func(ctx context.Context) error) (*future.Future[struct{}], error) {
	return worker.Go(s.core.Pool(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}
