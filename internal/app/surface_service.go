package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/config"
	"github.com/dokzlo13/lightcontrol/internal/surface"
)

// SurfaceService wraps the host-facing HTTP server.
type SurfaceService struct {
	cfg    *config.Config
	server *surface.Server
}

// NewSurfaceService creates a new SurfaceService.
func NewSurfaceService(cfg *config.Config, controls surface.Controls, history surface.History) *SurfaceService {
	server := surface.NewServer(cfg.Surface.Host, cfg.Surface.Port, controls, history, cfg.Control.RefreshInterval.Duration())
	return &SurfaceService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the surface server if enabled. A listen failure is fatal.
func (s *SurfaceService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.Surface.Enabled {
		log.Debug().Msg("Control surface server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("Control surface server error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}
