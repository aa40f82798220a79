package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/core"
	"github.com/dshills/hostshim/internal/host"
	"github.com/dshills/hostshim/internal/logging"
	"github.com/dshills/hostshim/internal/plugin"
	"github.com/dshills/hostshim/internal/plugin/lua"
	"github.com/dshills/hostshim/internal/stream"
	"github.com/dshills/hostshim/internal/uithread"
)

const shutdownTimeout = 5 * time.Second

// bootstrapper handles component initialization with cleanup on failure.
type bootstrapper struct {
	app  *Application
	opts Options
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app, opts: app.opts}
}

// bootstrap initializes all components in dependency order. On failure the
// components initialized so far are shut down again.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"config", b.initConfig},
		{"logging", b.initLogging},
		{"host", b.initHost},
		{"core", b.initCore},
		{"stream", b.initStream},
		{"sessions", b.initSessions},
		{"plugins", b.initPlugins},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			b.app.cleanup()
			return &InitError{Component: step.name, Err: err}
		}
		b.app.initOrder = append(b.app.initOrder, step.name)
	}

	b.app.log.Info().
		Bool("headless", b.app.Headless()).
		Int("sessions", len(b.app.cfg.Sessions)).
		Msg("hostshim initialized")
	return nil
}

func (b *bootstrapper) initConfig() error {
	b.app.v = config.New(b.opts.ConfigPath)
	cfg, err := config.Load(b.app.v)
	if err != nil {
		return err
	}

	if b.opts.LogLevel != "" {
		cfg.Log.Level = b.opts.LogLevel
	}
	if b.opts.StreamAddr != "" {
		cfg.Stream.Addr = b.opts.StreamAddr
	}
	if b.opts.PluginsDir != "" {
		cfg.Plugins.Dir = b.opts.PluginsDir
	}
	b.app.cfg = cfg
	return nil
}

func (b *bootstrapper) initLogging() error {
	cfg := b.app.cfg
	out := b.opts.LogOutput
	if out == nil {
		file := cfg.Log.File
		// Logging to stderr would draw over the terminal UI.
		if file == "" && !b.opts.Headless {
			file = filepath.Join(os.TempDir(), "hostshim.log")
		}
		if file != "" {
			f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			b.app.logFile = f
			out = f
		}
	}

	b.app.log = logging.New(cfg.Log, out)
	logging.ApplyLevel(cfg.Log.Level)

	if b.app.v.ConfigFileUsed() == "" {
		return nil
	}
	err := config.Watch(b.app.v, b.app.log, func(next *config.Config) {
		if b.opts.LogLevel != "" {
			return
		}
		level := logging.ApplyLevel(next.Log.Level)
		b.app.log.Info().Str("level", level.String()).Msg("log level applied")
	})
	if err != nil {
		b.app.log.Warn().Err(err).Msg("config watch disabled")
	}
	return nil
}

func (b *bootstrapper) initHost() error {
	var loopOpts []uithread.LoopOption
	if !b.opts.Headless {
		scr := b.opts.Screen
		if scr == nil {
			var err error
			if scr, err = tcell.NewScreen(); err != nil {
				return fmt.Errorf("create terminal: %w", err)
			}
		}
		b.app.tscreen = scr
		loopOpts = append(loopOpts, uithread.WithWaker(host.Waker(scr)))
	}

	b.app.loop = uithread.NewLoop(loopOpts...)
	b.app.host = host.New(b.app.loop, b.app.cfg.Sessions, b.app.log)
	if b.app.tscreen != nil {
		b.app.screen = host.NewScreen(b.app.tscreen, b.app.host, b.app.log)
	}
	return nil
}

func (b *bootstrapper) initCore() error {
	c := core.New(b.app.cfg, b.app.log, core.WithHookTarget(b.app.host.Slot))
	c.AttachUI(b.app.loop)
	b.app.core = c

	if !c.Hooks().Install() {
		return fmt.Errorf("session factory not hooked")
	}
	return nil
}

func (b *bootstrapper) initStream() error {
	if b.app.cfg.Stream.Addr == "" {
		return nil
	}
	bc := stream.NewBroadcaster(b.app.core.Sessions(), b.app.log)
	if err := bc.Attach(b.app.core.Bus()); err != nil {
		return err
	}
	b.app.broadcaster = bc
	b.app.server = stream.NewServer(bc, b.app.log, stream.WithToken(b.app.cfg.Stream.Token))
	return nil
}

func (b *bootstrapper) initSessions() error {
	b.app.sessions = adapter.New(b.app.core, b.app.host, b.app.host.Slot(),
		adapter.WithNotifier(b.app.notifier()))
	return nil
}

// notifier fans user notices out to the screen (or the log when headless)
// and to stream clients.
func (app *Application) notifier() adapter.Notifier {
	var multi adapter.Multi
	if app.screen != nil {
		multi = append(multi, app.screen)
	} else {
		multi = append(multi, adapter.NewLogNotifier(app.log))
	}
	if app.broadcaster != nil {
		multi = append(multi, app.broadcaster)
	}
	return multi
}

func (b *bootstrapper) initPlugins() error {
	dir := b.app.cfg.Plugins.Dir
	if dir == "" {
		return nil
	}

	b.app.plugins = plugin.NewManager(dir, lua.Deps{
		Bus:      b.app.core.Bus(),
		Registry: b.app.core.Sessions(),
		Sessions: b.app.sessions,
		Notifier: b.app.notifier(),
		Log:      b.app.log,
	})

	if !b.app.cfg.Plugins.Watch {
		return nil
	}
	w, err := plugin.NewWatcher(b.app.plugins, b.app.log)
	if err != nil {
		// A missing directory only disables reloading.
		b.app.log.Warn().Err(err).Str("dir", dir).Msg("plugin watcher disabled")
		return nil
	}
	b.app.watcher = w
	return nil
}

// cleanup shuts down initialized components in reverse order.
func (app *Application) cleanup() {
	for i := len(app.initOrder) - 1; i >= 0; i-- {
		switch app.initOrder[i] {
		case "plugins":
			if app.watcher != nil {
				if err := app.watcher.Close(); err != nil {
					app.log.Debug().Err(err).Msg("close plugin watcher")
				}
			}
			if app.plugins != nil {
				if err := app.plugins.Close(); err != nil {
					app.log.Warn().Err(err).Msg("close plugins")
				}
			}
		case "stream":
			if app.broadcaster != nil {
				app.broadcaster.Close()
			}
		case "core":
			// Background work waiting on the UI goroutine fails fast once
			// the loop is closed.
			app.loop.Close()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := app.core.Close(ctx); err != nil {
				app.log.Warn().Err(err).Msg("close core")
			}
			cancel()
		case "host":
			app.loop.Close()
			app.host.Shutdown()
		case "logging":
			if app.logFile != nil {
				_ = app.logFile.Close()
			}
		}
	}
	app.initOrder = nil
}
