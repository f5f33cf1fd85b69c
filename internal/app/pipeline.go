package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/display"
	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/network"
	"github.com/dokzlo13/tempod/internal/provider"
	"github.com/dokzlo13/tempod/internal/publish"
	"github.com/dokzlo13/tempod/internal/schedule"
)

// Pipeline runs wake cycles:
// battery, connect, clock, fetch, render, publish, release, schedule, sleep.
type Pipeline struct {
	device    string
	ssid      string
	key       string
	retention time.Duration
	services  *Services
}

// NewPipeline creates a pipeline over the given services
func NewPipeline(device, ssid, key string, retention time.Duration, services *Services) *Pipeline {
	return &Pipeline{
		device:    device,
		ssid:      ssid,
		key:       key,
		retention: retention,
		services:  services,
	}
}

// RunCycle runs one cycle to the low-power call. Failures before the power
// call are absorbed into the Cycle; the returned error comes from the power
// controller only.
func (p *Pipeline) RunCycle(ctx context.Context) (*Cycle, error) {
	s := p.services
	c := newCycle(ledger.NewCycleID())
	p.record(c, ledger.EventCycleStarted, nil)
	p.cleanupLedger()

	// the network session is released when online returns, before any power call
	if !p.online(ctx, c) {
		return c, p.clockUnset(ctx, c)
	}

	// re-read the clock so time spent publishing is not slept on top of the slot
	p.decide(c)

	if c.Fallback {
		p.record(c, ledger.EventSleepFallback, map[string]any{"reason": c.FallbackReason, "sleep_seconds": int64(c.Sleep.Seconds())})
		return c, s.Power.EnterFallback(ctx, c.FallbackReason)
	}

	p.record(c, ledger.EventSleepScheduled, map[string]any{
		"next_wake":     c.Decision.NextWake.Format(time.RFC3339),
		"slot":          c.Decision.Slot.String(),
		"sleep_seconds": c.Decision.SleepSeconds(),
	})
	return c, s.Power.EnterLowPowerUntil(ctx, c.Decision)
}

// online runs the connected part of the cycle: battery, connect, clock, fetch,
// render and publish. It returns false when no trustworthy time was found.
func (p *Pipeline) online(ctx context.Context, c *Cycle) bool {
	s := p.services
	p.readBattery(ctx, c)

	err := s.Connector.Connect(ctx, p.ssid, p.key)
	defer p.disconnect(ctx, c)
	if err != nil {
		c.WiFiFailed = true
		log.Warn().Err(err).Msg("Network connection failed, continuing offline")
		p.record(c, ledger.EventNetworkFailed, map[string]any{"error": err.Error()})
	}

	res, err := s.Resolver.Resolve(ctx, !c.WiFiFailed)
	if err != nil {
		c.ClockErr = err
		return false
	}
	c.Clock = res
	p.record(c, ledger.EventClockResolved, map[string]any{
		"time":     res.Time.Format(time.RFC3339),
		"source":   string(res.Source),
		"attempts": res.Attempts,
	})

	if c.WiFiFailed {
		c.FetchErr = network.ErrUnreachable
	} else {
		p.fetch(ctx, c)
	}

	p.render(ctx, c)

	// the summary carries the provisional decision
	p.decide(c)
	p.publish(ctx, c)
	return true
}

// decide computes the schedule decision from the resolver's current reading
func (p *Pipeline) decide(c *Cycle) {
	s := p.services
	c.Decision = schedule.Decision{}
	if s.SlotsErr == nil {
		c.Decision = schedule.NextWake(s.Resolver.Now(), s.Slots)
	}
	c.Sleep = s.Power.Duration(c.Decision)
	c.Fallback = !c.Decision.Valid
	c.FallbackReason = ""
	if c.Fallback {
		c.FallbackReason = "invalid schedule"
	}
}

func (p *Pipeline) disconnect(ctx context.Context, c *Cycle) {
	if err := p.services.Connector.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Str("cycle", c.ID).Msg("Failed to release network session")
	}
}

func (p *Pipeline) readBattery(ctx context.Context, c *Cycle) {
	s := p.services
	ev := log.Info().Str("device", p.device).Str("mac", network.Identity())

	if s.Sensor != nil {
		raw, err := s.Sensor.Sample(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to sample battery")
		} else {
			c.Battery = s.Curve.FromRaw(raw)
			ev = ev.Float64("voltage", c.Battery.Voltage).Int("percentage", c.Battery.Percentage)
			if !c.Battery.Valid {
				log.Warn().Int("raw", raw).Msg("Battery reading below 1V, sensor disconnected?")
			}
		}
	}

	ev.Str("cycle", c.ID).Msg("Wake cycle started")
}

// clockUnset shows the status lines and enters the fallback sleep exactly once
func (p *Pipeline) clockUnset(ctx context.Context, c *Cycle) error {
	s := p.services
	c.Fallback = true
	c.FallbackReason = "clock unset"
	c.Sleep = s.Power.Fallback()

	log.Error().Err(c.ClockErr).Msg("No trustworthy time, skipping fetch and render")
	p.record(c, ledger.EventClockUnset, map[string]any{"error": c.ClockErr.Error()})

	lines := []string{display.StatusSleepFallback}
	if c.WiFiFailed {
		lines = append([]string{display.StatusConnectionError}, lines...)
	}
	p.showStatus(ctx, lines...)

	p.record(c, ledger.EventSleepFallback, map[string]any{"reason": c.FallbackReason, "sleep_seconds": int64(c.Sleep.Seconds())})
	return s.Power.EnterFallback(ctx, c.FallbackReason)
}

// fetch asks the provider for colors; the provider is released before returning
func (p *Pipeline) fetch(ctx context.Context, c *Cycle) {
	prov := p.services.NewProvider()
	defer prov.Close()

	c.Provider = prov.Name()
	start := time.Now()
	colors, outcome, err := prov.FetchColors(ctx, c.Today(), c.Tomorrow())

	// the state is usable either way; a failed fetch carries Unavailable colors
	colors.DeriveFound()
	c.Colors = colors
	c.Fetch = outcome
	c.FetchErr = err

	if err != nil {
		kind := "bad_response"
		if errors.Is(err, provider.ErrUnreachable) {
			kind = "unreachable"
		}
		log.Warn().
			Err(err).
			Str("provider", c.Provider).
			Int("status", outcome.HTTPStatus).
			Dur("took", time.Since(start)).
			Msg("Color fetch failed, showing unavailable")
		p.record(c, ledger.EventFetchFailed, map[string]any{
			"provider": c.Provider,
			"kind":     kind,
			"status":   outcome.HTTPStatus,
			"error":    err.Error(),
		})
		return
	}

	log.Info().
		Str("provider", c.Provider).
		Str("today", colors.Today.Label()).
		Str("tomorrow", colors.Tomorrow.Label()).
		Int("red", colors.CountRed).
		Int("white", colors.CountWhite).
		Int("blue", colors.CountBlue).
		Dur("took", time.Since(start)).
		Msg("Colors fetched")
	p.record(c, ledger.EventFetchCompleted, map[string]any{
		"provider": c.Provider,
		"today":    colors.Today.String(),
		"tomorrow": colors.Tomorrow.String(),
		"status":   outcome.HTTPStatus,
	})
}

// render draws the panels and commits the frame; the surface is closed before returning
func (p *Pipeline) render(ctx context.Context, c *Cycle) {
	surface, closer, err := p.services.OpenSurface()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open display")
		return
	}
	defer closeQuietly(closer, "display")

	display.Render(surface, display.State{
		Colors:     c.Colors,
		Battery:    c.Battery,
		Today:      c.Today(),
		Tomorrow:   c.Tomorrow(),
		WiFiFailed: c.WiFiFailed,
	})
	if err := surface.Commit(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to commit frame")
		return
	}
	p.record(c, ledger.EventFrameCommitted, nil)
}

func (p *Pipeline) showStatus(ctx context.Context, lines ...string) {
	surface, closer, err := p.services.OpenSurface()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open display")
		return
	}
	defer closeQuietly(closer, "display")

	surface.Clear()
	console := display.NewConsole(surface)
	for _, line := range lines {
		console.Println(line)
	}
	if err := surface.Commit(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to commit status frame")
	}
}

func (p *Pipeline) publish(ctx context.Context, c *Cycle) {
	if c.WiFiFailed {
		return
	}
	err := p.services.Publisher.Publish(ctx, publish.Summary{
		Device:      p.device,
		CycleID:     c.ID,
		Time:        c.Clock.Time,
		ClockSource: string(c.Clock.Source),
		Provider:    c.Provider,
		Colors:      c.Colors,
		Fetch:       c.Fetch,
		FetchError:  errString(c.FetchErr),
		Battery:     c.Battery,
		WiFiFailed:  c.WiFiFailed,
		NextWake:    c.Decision.NextWake,
		SleepSecs:   int64(c.Sleep.Seconds()),
		Fallback:    c.Fallback,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to publish cycle summary")
	}
}

func (p *Pipeline) record(c *Cycle, eventType ledger.EventType, payload map[string]any) {
	if p.services.Ledger == nil {
		return
	}
	if err := p.services.Ledger.Append(c.ID, eventType, payload); err != nil {
		log.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to append to ledger")
	}
}

func (p *Pipeline) cleanupLedger() {
	if p.services.Ledger == nil || p.retention <= 0 {
		return
	}
	deleted, err := p.services.Ledger.DeleteOlderThan(p.retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", p.retention).Msg("Cleaned up old ledger entries")
	}
}

func closeQuietly(c interface{ Close() error }, what string) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("resource", what).Msg("Failed to release resource")
	}
}
