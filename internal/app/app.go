// Package app provides the main application structure for hostshim. It
// wires together the host, the core runtime, the session facade, the event
// stream and the plugin manager, and owns their lifecycle.
package app

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/core"
	"github.com/dshills/hostshim/internal/host"
	"github.com/dshills/hostshim/internal/plugin"
	"github.com/dshills/hostshim/internal/stream"
	"github.com/dshills/hostshim/internal/uithread"
)

// Application is the central coordinator for all hostshim components.
type Application struct {
	opts Options

	v       *viper.Viper
	cfg     *config.Config
	log     zerolog.Logger
	logFile *os.File

	// UI goroutine
	loop    *uithread.Loop
	host    *host.Host
	tscreen tcell.Screen
	screen  *host.Screen

	// Runtime
	core     *core.Core
	sessions *adapter.Sessions

	// Outer surfaces
	broadcaster *stream.Broadcaster
	server      *stream.Server
	plugins     *plugin.Manager
	watcher     *plugin.Watcher

	initOrder    []string
	running      atomic.Bool
	shutdownOnce sync.Once
}

// Options configures the application. Non-empty fields override the
// configuration file.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// LogLevel overrides log.level.
	LogLevel string

	// Headless runs without a terminal UI. The UI loop then owns the
	// goroutine that calls Run.
	Headless bool

	// StreamAddr overrides stream.addr.
	StreamAddr string

	// PluginsDir overrides plugins.dir.
	PluginsDir string

	// LogOutput overrides where logs are written.
	LogOutput io.Writer

	// Screen is the terminal to draw on. When nil a tcell screen is created.
	Screen tcell.Screen
}

// New creates a fully wired application. Nothing runs until Run.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}
	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Config returns the effective configuration.
func (app *Application) Config() *config.Config { return app.cfg }

// Logger returns the root logger.
func (app *Application) Logger() zerolog.Logger { return app.log }

// Core returns the core runtime.
func (app *Application) Core() *core.Core { return app.core }

// Host returns the session host.
func (app *Application) Host() *host.Host { return app.host }

// Sessions returns the session control facade.
func (app *Application) Sessions() *adapter.Sessions { return app.sessions }

// Plugins returns the plugin manager, or nil when plugins are disabled.
func (app *Application) Plugins() *plugin.Manager { return app.plugins }

// Broadcaster returns the event stream, or nil when it is disabled.
func (app *Application) Broadcaster() *stream.Broadcaster { return app.broadcaster }

// Headless reports whether the application runs without a terminal UI.
func (app *Application) Headless() bool { return app.screen == nil }

// IsRunning reports whether Run is in progress.
func (app *Application) IsRunning() bool { return app.running.Load() }
