package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Run loads plugins, starts the event stream and the plugin watcher, and
// then turns the calling goroutine into the UI goroutine until the user
// quits or ctx is done. A cancelled ctx is a normal exit.
func (app *Application) Run(ctx context.Context) error {
	if app.initOrder == nil {
		return ErrShutdown
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if app.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.server.ListenAndServe(ctx, app.cfg.Stream.Addr); err != nil {
				errCh <- fmt.Errorf("event stream: %w", err)
				cancel()
			}
		}()
	}

	if app.plugins != nil {
		// Failures are reported per plugin through the notifier.
		if err := app.plugins.LoadAll(ctx); err != nil {
			app.log.Warn().Err(err).Msg("plugins")
		}
	}

	if app.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.log.Warn().Err(err).Msg("plugin watcher stopped")
			}
		}()
	}

	var err error
	if app.screen != nil {
		err = app.screen.Run(ctx, app.core.Bus(), app.sessions)
	} else {
		app.log.Info().Msg("running headless")
		err = app.loop.Run(ctx)
	}

	cancel()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	select {
	case serr := <-errCh:
		if err == nil {
			err = serr
		}
	default:
	}
	return err
}

// Shutdown releases every component. It is safe to call more than once
// and from any goroutine once Run has returned.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		app.log.Info().Msg("shutting down")
		app.cleanup()
	})
}
