package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/config"
	"github.com/dokzlo13/lightcontrol/internal/control"
	"github.com/dokzlo13/lightcontrol/internal/db"
	"github.com/dokzlo13/lightcontrol/internal/eventbus"
	"github.com/dokzlo13/lightcontrol/internal/hue"
	"github.com/dokzlo13/lightcontrol/internal/ledger"
	"github.com/dokzlo13/lightcontrol/internal/light"
	"github.com/dokzlo13/lightcontrol/internal/surface"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Bridge access
	Transport *hue.Transport
	Client    *hue.Client

	// Control engine
	Control *control.Service

	// HTTP surfaces
	Surface *SurfaceService
	Health  *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Initialize database and ledger
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
		s.Ledger.Attach(s.Bus)
	} else {
		log.Info().Msg("Ledger disabled")
	}

	// Initialize bridge transport and client
	s.Transport = hue.NewTransport(
		&http.Client{Timeout: cfg.Bridge.Timeout.Duration()},
		cfg.Transport.Workers,
		cfg.Bridge.GetRateLimitRPS(),
	)
	client, err := hue.NewClient(s.Transport, cfg.Bridge.Scheme, cfg.Bridge.Address, cfg.Bridge.Token)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Client = client

	// Initialize control service
	s.Control = control.NewService(client, control.Options{
		Descriptor: light.Descriptor{
			ID:                cfg.Control.ID,
			Title:             cfg.Control.Title,
			ActionDescription: cfg.Control.ActionDescription,
		},
		Bus: s.Bus,
	})

	// Initialize HTTP services
	var history surface.History
	if s.Ledger != nil {
		history = s.Ledger
	}
	s.Surface = NewSurfaceService(cfg, s.Control, history)
	s.Health = NewHealthService(cfg)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.Ledger != nil {
		go s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), retention(s.cfg.Ledger.RetentionDays))
	}

	s.Surface.Start(ctx, onFatalError)
	s.Health.Start(ctx)
	s.Health.SetReady(true)

	log.Info().
		Str("bridge", s.cfg.Bridge.Address).
		Int("workers", s.cfg.Transport.Workers).
		Float64("rate_limit_rps", s.cfg.Bridge.GetRateLimitRPS()).
		Msg("Bridge client ready")
	return nil
}

// shutdownStep is one resource released on Close.
type shutdownStep struct {
	name string
	run  func(ctx context.Context) error
}

// shutdownSteps lists what Close releases, in order: the control service
// cancels its own calls before the transport shuts down, and the bus drains
// into the ledger before the database closes.
func (s *Services) shutdownSteps() []shutdownStep {
	var steps []shutdownStep
	if s.Control != nil {
		steps = append(steps, shutdownStep{"control", func(context.Context) error {
			n := s.Control.Close()
			state := s.Control.State()
			log.Info().
				Int("cancelled", n).
				Bool("on", state.On).
				Float64("brightness", state.Brightness).
				Msg("Control service closed")
			return nil
		}})
	}
	if s.Transport != nil {
		steps = append(steps, shutdownStep{"transport", s.Transport.Close})
	}
	if s.Bus != nil {
		steps = append(steps, shutdownStep{"eventbus", s.Bus.Close})
	}
	if s.DB != nil {
		steps = append(steps, shutdownStep{"database", func(context.Context) error {
			return s.DB.Close()
		}})
	}
	return steps
}

// runShutdown runs every step, each with its own timeout, and joins the
// failures.
func runShutdown(steps []shutdownStep, timeout time.Duration) error {
	var errs []error
	for _, step := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := step.run(ctx)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("step", step.name).Msg("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases all resources and reports every step that failed.
func (s *Services) Close() error {
	if s.Health != nil {
		s.Health.SetReady(false)
	}
	return runShutdown(s.shutdownSteps(), s.cfg.GetShutdownTimeout())
}

func retention(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
