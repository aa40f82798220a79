// Package host is a small terminal host application: it owns a UI goroutine,
// launches configured processes as sessions, and exposes its session factory
// through a hook slot.
//
// All session state belongs to the UI goroutine. Process output is read on
// background goroutines and posted to the UI loop before any listener sees it.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/hook"
	"github.com/dshills/hostshim/internal/uithread"
)

// Launcher is the host's launch request for one configured session.
type Launcher struct {
	Spec config.SessionSpec
}

// SessionName implements hook.Launcher.
func (l *Launcher) SessionName() string { return l.Spec.Name }

// LicenseGate is returned by the factory for a gated session that has not
// been accepted yet.
type LicenseGate struct {
	Session string
}

// GateReason implements hook.Gate.
func (g *LicenseGate) GateReason() string {
	return fmt.Sprintf("terms for %s not accepted", g.Session)
}

// Host owns the configured sessions and the factory slot.
type Host struct {
	loop *uithread.Loop
	ui   *uithread.Marshaler
	slot *hook.Slot
	log  zerolog.Logger

	mu       sync.Mutex
	specs    map[string]config.SessionSpec
	order    []string
	accepted map[string]bool
	// procs holds one process per session name. A stopped session is
	// started again through the same handle.
	procs map[string]*Process
}

// New creates a host whose UI goroutine consumes loop.
func New(loop *uithread.Loop, specs []config.SessionSpec, log zerolog.Logger) *Host {
	h := &Host{
		loop:     loop,
		ui:       uithread.NewMarshaler(func() *uithread.Loop { return loop }),
		log:      log.With().Str("component", "host").Logger(),
		specs:    make(map[string]config.SessionSpec, len(specs)),
		accepted: make(map[string]bool),
		procs:    make(map[string]*Process),
	}
	for _, s := range specs {
		if _, dup := h.specs[s.Name]; !dup {
			h.order = append(h.order, s.Name)
		}
		h.specs[s.Name] = s
	}
	h.slot = hook.NewSlot(h.launch)
	return h
}

// Slot returns the session factory extension point.
func (h *Host) Slot() *hook.Slot { return h.slot }

// Loop returns the UI loop.
func (h *Host) Loop() *uithread.Loop { return h.loop }

// Lookup returns the launcher for name.
func (h *Host) Lookup(name string) (hook.Launcher, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	spec, ok := h.specs[name]
	if !ok {
		return nil, false
	}
	return &Launcher{Spec: spec}, true
}

// Names lists configured sessions in configuration order.
func (h *Host) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

// Accept clears the gate on a gated session.
func (h *Host) Accept(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.specs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	h.accepted[name] = true
	return nil
}

// launch is the host's session factory. It must run on the UI goroutine.
func (h *Host) launch(ctx context.Context, l hook.Launcher) (any, error) {
	if !uithread.OnUIThread(ctx, h.loop) {
		return nil, ErrNotUIThread
	}

	name := l.SessionName()
	h.mu.Lock()
	spec, ok := h.specs[name]
	accepted := h.accepted[name]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	if spec.Gated && !accepted {
		return &LicenseGate{Session: name}, nil
	}

	h.mu.Lock()
	p, ok := h.procs[name]
	if !ok {
		p = newProcess(spec, h.ui, h.log)
		h.procs[name] = p
	}
	h.mu.Unlock()

	if err := p.start(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return nil, fmt.Errorf("session %s: %w", name, err)
		}
		return nil, err
	}
	return p, nil
}

// Shutdown kills every process the host launched and still runs.
func (h *Host) Shutdown() {
	h.mu.Lock()
	procs := h.procs
	h.procs = make(map[string]*Process)
	h.mu.Unlock()

	for _, p := range procs {
		if p.Running() {
			if err := p.Kill(); err != nil {
				h.log.Debug().Err(err).Str("session", p.Name()).Msg("kill on shutdown")
			}
		}
	}
}
