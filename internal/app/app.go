package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/config"
)

// App owns the services of one lightcontrol process. It runs until its
// context is cancelled, by a signal or by a fatal service error, and then
// releases everything exactly once.
type App struct {
	services *Services

	ctx    context.Context
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopErr  error
}

// New creates an App with every service built but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{services: services}, nil
}

// Start starts all services. The app stops running when ctx is cancelled or
// a service reports a fatal error.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancelCause(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel(err)
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel(err)
		return err
	}

	log.Info().Str("control", a.services.Control.Descriptor().ID).Msg("lightcontrol started")
	return nil
}

// Done is closed once the app should shut down.
func (a *App) Done() <-chan struct{} {
	if a.ctx == nil {
		return nil
	}
	return a.ctx.Done()
}

// Stop releases all services and returns the joined shutdown failures.
// Later calls return the same result.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		cause := errors.New("stopped")
		if a.ctx != nil {
			if c := context.Cause(a.ctx); c != nil {
				cause = c
			}
		}
		log.Info().Str("cause", cause.Error()).Msg("Shutting down...")

		if a.cancel != nil {
			a.cancel(cause)
		}
		a.stopErr = a.services.Close()
	})
	return a.stopErr
}

// Run starts the app, waits for shutdown and stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("start: %w", err), a.Stop())
	}
	<-a.Done()
	return a.Stop()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM, with the
// signal as its cause.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancelCause(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel(fmt.Errorf("received %s", sig))
	}()

	return ctx
}
