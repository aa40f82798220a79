// Package hook captures sessions created by the host and turns their native
// notifications into bus events.
//
// The host exposes a Slot holding its session factory. Install wraps that
// factory exactly once; every handle the wrapped factory returns is
// registered by name and its log and exit channels are forwarded to the
// event bus. Collaborators that already hold a handle can call HookSession
// directly with the same idempotency guarantee.
package hook

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/hostshim/internal/event"
	"github.com/dshills/hostshim/internal/session"
)

// Emitter publishes captured events. *event.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

// hookKey identifies one attachment. A handle re-registered under another
// name is attached again.
type hookKey struct {
	name   string
	handle session.Handle
}

// Installer wires host sessions into the registry and the event bus.
type Installer struct {
	locate func() *Slot
	reg    *session.Registry
	bus    Emitter
	log    zerolog.Logger

	mu        sync.Mutex
	installed bool
	hooked    map[hookKey]struct{}

	captured atomic.Uint64
}

// NewInstaller creates an installer. locate returns the host's factory
// slot, or nil when the host does not expose one.
func NewInstaller(locate func() *Slot, reg *session.Registry, bus Emitter, log zerolog.Logger) *Installer {
	return &Installer{
		locate: locate,
		reg:    reg,
		bus:    bus,
		log:    log.With().Str("component", "hook_installer").Logger(),
		hooked: make(map[hookKey]struct{}),
	}
}

// Install wraps the host factory so new sessions are captured. It is
// idempotent: a slot that is already hooked, by this or any other installer,
// is left alone. It returns false if the host exposes no factory slot; that
// only disables automatic capture.
func (i *Installer) Install() bool {
	i.mu.Lock()
	if i.installed {
		i.mu.Unlock()
		return true
	}
	i.mu.Unlock()

	var slot *Slot
	if i.locate != nil {
		slot = i.locate()
	}
	if slot == nil {
		i.log.Debug().Msg("hook target missing; session auto-capture disabled")
		return false
	}

	if slot.wrapOnce(i.wrap) {
		i.log.Info().Msg("session factory hooked")
	} else if !slot.Hooked() {
		i.log.Debug().Msg("hook target has no factory; session auto-capture disabled")
		return false
	} else {
		i.log.Debug().Msg("session factory already hooked")
	}

	i.mu.Lock()
	i.installed = true
	i.mu.Unlock()
	return true
}

// Installed reports whether Install has engaged.
func (i *Installer) Installed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installed
}

// Captured returns the number of distinct attachments made.
func (i *Installer) Captured() uint64 {
	return i.captured.Load()
}

// wrap returns a factory that calls original and captures its result.
// The original result and error are always returned untouched.
func (i *Installer) wrap(original Factory) Factory {
	return func(ctx context.Context, l Launcher) (any, error) {
		result, err := original(ctx, l)
		if err != nil {
			return result, err
		}
		if recovered := panics.Try(func() { i.capture(l, result) }); recovered != nil {
			i.log.Error().
				Interface("panic", recovered.Value).
				Msg("session capture failed")
		}
		return result, err
	}
}

func (i *Installer) capture(l Launcher, result any) {
	if result == nil || l == nil {
		return
	}
	if gate, ok := result.(Gate); ok {
		i.log.Debug().Str("reason", gate.GateReason()).Msg("launch gated; nothing to capture")
		return
	}
	name := l.SessionName()
	if name == "" {
		i.log.Debug().Msg("launcher has no session name; nothing to capture")
		return
	}
	i.HookSession(result, name)
}

// HookSession registers handle under name and forwards its log and exit
// notifications to the bus. Repeated calls with the same name and handle
// are no-ops. It returns true if this call made the attachment.
func (i *Installer) HookSession(handle session.Handle, name string) bool {
	if handle == nil || name == "" {
		return false
	}
	// A comparable type can still hold an unhashable value, such as a
	// struct with an interface field carrying a slice.
	if !reflect.ValueOf(handle).Comparable() {
		i.log.Warn().
			Err(ErrHandleNotComparable).
			Str("session", name).
			Str("handle_type", reflect.TypeOf(handle).String()).
			Msg("session not hooked")
		return false
	}

	key := hookKey{name: name, handle: handle}
	i.mu.Lock()
	if _, ok := i.hooked[key]; ok {
		i.mu.Unlock()
		return false
	}
	i.hooked[key] = struct{}{}
	i.mu.Unlock()

	attached := 0
	if src, ok := handle.(LogSource); ok {
		src.OnLogOutput(func(ctx context.Context, line string) {
			i.emit(ctx, event.NewLogEvent(name, line))
		})
		attached++
	}
	if src, ok := handle.(ExitSource); ok {
		src.OnClosed(func(ctx context.Context, exitCode int) {
			i.emit(ctx, event.NewExitEvent(name, exitCode))
		})
		attached++
	}

	if i.reg != nil {
		i.reg.Register(name, handle)
	}
	i.captured.Add(1)

	i.log.Info().
		Str("session", name).
		Int("channels", attached).
		Msg("session hooked")
	return true
}

func (i *Installer) emit(ctx context.Context, ev event.Event) {
	if i.bus == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := i.bus.Emit(ctx, ev); err != nil {
		i.log.Warn().Err(err).Str("event", ev.Type().String()).Msg("emit failed")
	}
}
