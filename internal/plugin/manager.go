package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/plugin/lua"
)

// Manager manages the lifecycle of the plugins in one directory.
type Manager struct {
	dir    string
	deps   lua.Deps
	log    zerolog.Logger
	notify adapter.Notifier
	opts   []lua.StateOption

	// opMu serializes Load, Unload and Reload.
	opMu sync.Mutex

	mu      sync.RWMutex
	plugins map[string]*entry
	closed  bool
}

type entry struct {
	info Info
	rt   *lua.Runtime
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStateOptions applies opts to every plugin's Lua state.
func WithStateOptions(opts ...lua.StateOption) ManagerOption {
	return func(m *Manager) {
		m.opts = append(m.opts, opts...)
	}
}

// NewManager creates a manager for the plugins in dir. deps are handed to
// every plugin runtime; deps.Notifier also receives load failures.
func NewManager(dir string, deps lua.Deps, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:     dir,
		deps:    deps,
		log:     deps.Log.With().Str("component", "plugins").Logger(),
		notify:  deps.Notifier,
		plugins: make(map[string]*entry),
	}
	if m.notify == nil {
		m.notify = adapter.NewLogNotifier(deps.Log)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the plugin directory.
func (m *Manager) Dir() string { return m.dir }

// LoadAll loads every discovered plugin. A plugin that fails does not stop
// the others; the failures are joined into the returned error.
func (m *Manager) LoadAll(ctx context.Context) error {
	plugins, err := Discover(m.dir)
	if err != nil {
		return fmt.Errorf("discover plugins in %s: %w", m.dir, err)
	}

	var errs []error
	for _, info := range plugins {
		if err := m.Load(ctx, info.Name); err != nil && !errors.Is(err, ErrAlreadyLoaded) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Load loads the plugin called name.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.load(ctx, name)
}

func (m *Manager) load(ctx context.Context, name string) error {
	m.mu.RLock()
	closed := m.closed
	e, exists := m.plugins[name]
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}
	if exists && e.rt != nil {
		return fmt.Errorf("plugin %q: %w", name, ErrAlreadyLoaded)
	}

	info, err := Find(m.dir, name)
	if err != nil {
		return err
	}
	if info.Err != nil {
		m.record(info, nil)
		return m.fail(name, info.Err)
	}

	rt := lua.NewRuntime(name, m.deps, m.opts...)
	_, err = Guard(m.log, "load "+name, func() (struct{}, error) {
		return struct{}{}, rt.Load(ctx, info.Path)
	})
	if err != nil {
		if cerr := rt.Close(); cerr != nil {
			m.log.Debug().Err(cerr).Str("plugin", name).Msg("close after failed load")
		}
		info.State = StateError
		info.Err = err
		m.record(info, nil)
		return m.fail(name, err)
	}

	info.State = StateLoaded
	m.record(info, rt)
	m.log.Info().Str("plugin", name).Str("path", info.Path).Int("subscriptions", rt.Subscriptions()).Msg("plugin loaded")
	return nil
}

func (m *Manager) fail(name string, err error) error {
	m.notify.Notify(adapter.LevelError, "Plugin "+name, err.Error())
	return fmt.Errorf("failed to load plugin %q: %w", name, err)
}

func (m *Manager) record(info Info, rt *lua.Runtime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[info.Name] = &entry{info: info, rt: rt}
}

// Unload stops the plugin called name and removes its subscriptions.
func (m *Manager) Unload(name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.unload(name)
}

func (m *Manager) unload(name string) error {
	m.mu.Lock()
	e, ok := m.plugins[name]
	if !ok || e.rt == nil {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrNotLoaded)
	}
	rt := e.rt
	e.rt = nil
	e.info.State = StateUnloaded
	e.info.Err = nil
	m.mu.Unlock()

	if err := rt.Close(); err != nil {
		return fmt.Errorf("unload plugin %q: %w", name, err)
	}
	m.log.Info().Str("plugin", name).Msg("plugin unloaded")
	return nil
}

// Reload unloads name if it is loaded and loads it again from disk. A
// plugin that no longer exists is forgotten.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.unload(name); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}

	err := m.load(ctx, name)
	if errors.Is(err, ErrPluginNotFound) {
		m.mu.Lock()
		_, known := m.plugins[name]
		delete(m.plugins, name)
		m.mu.Unlock()
		if known {
			m.log.Info().Str("plugin", name).Msg("plugin removed")
		}
		return nil
	}
	if err == nil {
		m.log.Info().Str("plugin", name).Msg("plugin reloaded")
	}
	return err
}

// Get returns the state of the plugin called name.
func (m *Manager) Get(name string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.plugins[name]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// List returns every known plugin sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.plugins))
	for _, e := range m.plugins {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Close unloads every plugin. Later loads fail with ErrManagerClosed.
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var names []string
	for name, e := range m.plugins {
		if e.rt != nil {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := m.unload(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
