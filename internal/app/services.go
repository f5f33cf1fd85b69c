package app

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/battery"
	"github.com/dokzlo13/tempod/internal/clock"
	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/db"
	"github.com/dokzlo13/tempod/internal/display"
	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/network"
	"github.com/dokzlo13/tempod/internal/power"
	"github.com/dokzlo13/tempod/internal/provider"
	"github.com/dokzlo13/tempod/internal/publish"
	"github.com/dokzlo13/tempod/internal/schedule"
)

// Services is a container for the collaborators of the wake pipeline.
// Cycle-scoped resources (provider HTTP clients, the display device) are
// created through factories so each cycle acquires and releases its own.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger

	Resolver  *clock.Resolver
	Slots     []schedule.WakeSlot
	SlotsErr  error
	Sensor    battery.Sensor
	Curve     battery.Curve
	Connector network.Connector
	Power     *power.Controller
	Publisher publish.Publisher

	NewProvider func() provider.Provider
	OpenSurface func() (display.Surface, io.Closer, error)
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Ledger is optional; the pipeline runs without it
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB, cfg.Device.Name)
	}

	tz, err := clock.LoadZone(cfg.Clock.Timezone)
	if err != nil {
		s.Close()
		return nil, err
	}
	var ntpSource clock.NetworkSource
	if cfg.Clock.NTPServer != "" {
		ntpSource = clock.NewNTPSource(cfg.Clock.NTPServer, cfg.Clock.NTPTimeout.Duration())
	}
	s.Resolver = clock.NewResolver(
		clock.SystemClock{},
		ntpSource,
		clock.RetryPolicy{MaxAttempts: cfg.Clock.SyncAttempts, Spacing: cfg.Clock.SyncSpacing.Duration()},
		tz,
		cfg.Clock.MinYear,
	)

	// An invalid slot table is not fatal: every cycle then sleeps the fallback duration
	s.Slots, s.SlotsErr = schedule.ParseSlots(cfg.Schedule.Slots)
	if s.SlotsErr != nil {
		log.Error().Err(s.SlotsErr).Strs("slots", cfg.Schedule.Slots).Msg("Invalid wake schedule, fallback sleep will be used")
	}

	s.Curve = battery.Curve{
		Scale: cfg.Battery.ScaleFactor,
		Full:  cfg.Battery.VoltageFull,
		Empty: cfg.Battery.VoltageEmpty,
	}
	if cfg.Battery.RawPath != "" {
		s.Sensor = battery.NewFileSensor(cfg.Battery.RawPath)
	}

	s.Connector = network.NewNMCLI(network.Options{
		ConnectionID: cfg.WiFi.ConnectionID,
		ProbeHost:    cfg.WiFi.ProbeHost,
		Timeout:      cfg.WiFi.Timeout.Duration(),
		Settle:       cfg.WiFi.Settle.Duration(),
	})

	var timer power.WakeTimer = power.ProcessTimer{}
	if cfg.Power.Timer == "rtcwake" {
		timer = power.NewRTCWakeTimer(cfg.Power.RTCWakeMode)
	}
	s.Power = power.NewController(timer, cfg.Power.FallbackDuration.Duration())

	s.Publisher = publish.Nop{}
	if cfg.MQTT.IsEnabled() {
		s.Publisher = publish.NewMQTT(publish.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Timeout:     cfg.MQTT.Timeout.Duration(),
		})
	}

	s.NewProvider = func() provider.Provider { return NewProvider(cfg.Provider) }
	s.OpenSurface = func() (display.Surface, io.Closer, error) { return OpenSurface(cfg.Display) }

	return s, nil
}

// NewProvider builds the configured provider strategy
func NewProvider(cfg config.ProviderConfig) provider.Provider {
	if cfg.Strategy == "contract" {
		return provider.NewContract(provider.ContractOptions{
			TokenURL:     cfg.TokenURL,
			CalendarURL:  cfg.CalendarURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Timeout:      cfg.Timeout.Duration(),
		})
	}
	return provider.NewPreview(cfg.PreviewURL, cfg.Timeout.Duration())
}

// OpenSurface acquires the configured display sink behind a framebuffer
func OpenSurface(cfg config.DisplayConfig) (display.Surface, io.Closer, error) {
	var sink display.Sink
	switch cfg.Driver {
	case "epaper":
		ep, err := display.NewEPaperSink(cfg.SPIPort)
		if err != nil {
			return nil, nil, err
		}
		sink = ep
	case "png":
		sink = display.NewPNGSink(cfg.OutputPath)
	default:
		return nil, nil, fmt.Errorf("unknown display driver %q", cfg.Driver)
	}

	fb := display.NewFramebuffer(sink)
	return fb, fb, nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
