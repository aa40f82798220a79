package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("plugin watcher is closed")

// Watcher reloads plugins when their files change on disk.
//
// It watches the plugin directory and every directory plugin inside it.
// Changes are debounced per plugin, then handed to Manager.Reload.
type Watcher struct {
	m     *Manager
	log   zerolog.Logger
	delay time.Duration

	fs *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a changed plugin is reloaded.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// NewWatcher starts watching m's directory. The directory must exist.
func NewWatcher(m *Manager, log zerolog.Logger, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		m:       m,
		log:     log.With().Str("component", "plugin-watcher").Logger(),
		delay:   DefaultDebounce,
		fs:      fsw,
		pending: make(map[string]*time.Timer),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsw.Add(m.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addDir(filepath.Join(m.Dir(), e.Name()))
		}
	}
	return w, nil
}

func (w *Watcher) addDir(path string) {
	if err := w.fs.Add(path); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("watch plugin directory")
	}
}

// Run processes file events until ctx is done or Close is called. Reloads
// run with ctx.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.closeCh:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("plugin watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	dir := w.m.Dir()
	name, ok := pluginName(dir, ev.Name)
	if !ok {
		return
	}

	// New directory plugins are watched as they appear.
	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(dir) {
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			w.addDir(ev.Name)
		}
	}

	w.schedule(ctx, name)
}

// schedule debounces a reload of name.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if t, ok := w.pending[name]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[name] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.pending, name)
		closed := w.closed
		w.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		w.log.Debug().Str("plugin", name).Msg("plugin changed")
		if err := w.m.Reload(ctx, name); err != nil {
			w.log.Warn().Err(err).Str("plugin", name).Msg("reload failed")
		}
	})
}

// Pending returns the number of plugins waiting for their reload.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops the watcher and cancels pending reloads.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fs.Close()
}
