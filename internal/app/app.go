package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/config"
)

// App is the main application container that owns the services and runs
// wake cycles.
type App struct {
	cfg      *config.Config
	services *Services
	pipeline *Pipeline
}

// New creates a new App instance with all services initialized.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
		pipeline: NewPipeline(cfg.Device.Name, cfg.WiFi.SSID, cfg.WiFi.Key, cfg.Ledger.RetentionPeriod(), services),
	}, nil
}

// Services exposes the wired collaborators to commands that run a single step.
func (a *App) Services() *Services {
	return a.services
}

// RunOnce runs a single wake cycle, including its low-power call.
func (a *App) RunOnce(ctx context.Context) (*Cycle, error) {
	return a.pipeline.RunCycle(ctx)
}

// Run repeats wake cycles until ctx is cancelled. With the process timer each
// cycle's sleep returns here; with rtcwake the host resumes after suspend.
func (a *App) Run(ctx context.Context) error {
	log.Info().Str("device", a.cfg.Device.Name).Msg("tempod started")

	for {
		c, err := a.pipeline.RunCycle(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Shutting down...")
			return nil
		}
		if err != nil {
			// Never spin when the wake timer is broken
			backoff := a.services.Power.Fallback()
			log.Error().Err(err).Str("cycle", c.ID).Dur("retry_in", backoff).Msg("Low power entry failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
		}
	}
}

// Close releases all resources.
func (a *App) Close() error {
	if a.services != nil {
		a.services.Close()
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
