package hook

import (
	"context"
	"sync"
)

// Launcher describes a pending session launch. The factory receives it and
// the installer derives the session name from it.
type Launcher interface {
	SessionName() string
}

// Factory creates a session for l. It returns either a session handle or a
// Gate value when a launch precondition is unmet.
type Factory func(ctx context.Context, l Launcher) (any, error)

// Gate marks a factory result that is not a session, such as an
// unaccepted license.
type Gate interface {
	GateReason() string
}

// LogSource is implemented by handles that stream output lines.
// Callbacks receive the context of the goroutine delivering the line.
type LogSource interface {
	OnLogOutput(fn func(ctx context.Context, line string))
}

// ExitSource is implemented by handles that report termination.
type ExitSource interface {
	OnClosed(fn func(ctx context.Context, exitCode int))
}

// Slot is the extension point a host exposes for its session factory.
// The hooked marker is stored next to the factory reference so a slot is
// wrapped at most once no matter how many installers see it.
type Slot struct {
	mu      sync.Mutex
	factory Factory
	hooked  bool
}

// NewSlot creates a slot holding f.
func NewSlot(f Factory) *Slot {
	return &Slot{factory: f}
}

// Invoke calls the current factory.
func (s *Slot) Invoke(ctx context.Context, l Launcher) (any, error) {
	s.mu.Lock()
	f := s.factory
	s.mu.Unlock()

	if f == nil {
		return nil, ErrNoFactory
	}
	return f(ctx, l)
}

// Hooked reports whether the factory has been wrapped.
func (s *Slot) Hooked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hooked
}

// wrapOnce replaces the factory with wrap(factory) unless the slot is
// already hooked or empty. It returns true if it installed the wrapper.
func (s *Slot) wrapOnce(wrap func(Factory) Factory) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hooked || s.factory == nil {
		return false
	}
	s.factory = wrap(s.factory)
	s.hooked = true
	return true
}
