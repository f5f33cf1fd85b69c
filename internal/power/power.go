// Package power puts the device into its low-power state until the next wake.
package power

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/schedule"
)

// DefaultFallback is the sleep used when no valid wake decision exists
const DefaultFallback = 6 * time.Hour

// WakeTimer sleeps for a number of microseconds. On real hardware the call
// suspends the host and the next cycle starts from the top.
type WakeTimer interface {
	SleepFor(ctx context.Context, us int64) error
}

// Microseconds converts d to whole microseconds, never negative
func Microseconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Microseconds()
}

// ProcessTimer sleeps inside the process and returns when the duration
// elapses or ctx is done
type ProcessTimer struct{}

func (ProcessTimer) SleepFor(ctx context.Context, us int64) error {
	t := time.NewTimer(time.Duration(us) * time.Microsecond)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RTCWakeTimer suspends the host with rtcwake(8), arming the RTC alarm
type RTCWakeTimer struct {
	mode string
	run  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewRTCWakeTimer creates a timer using the given suspend mode (mem, disk, off...)
func NewRTCWakeTimer(mode string) *RTCWakeTimer {
	return &RTCWakeTimer{
		mode: mode,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// SleepFor rounds up to whole seconds; rtcwake needs at least one
func (r *RTCWakeTimer) SleepFor(ctx context.Context, us int64) error {
	seconds := (us + 999_999) / 1_000_000
	if seconds < 1 {
		seconds = 1
	}

	out, err := r.run(ctx, "rtcwake", "-m", r.mode, "-s", strconv.FormatInt(seconds, 10))
	if err != nil {
		return fmt.Errorf("rtcwake failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Controller decides how long to sleep and hands the duration to a WakeTimer
type Controller struct {
	timer    WakeTimer
	fallback time.Duration
}

// NewController creates a controller. A zero fallback uses DefaultFallback.
func NewController(timer WakeTimer, fallback time.Duration) *Controller {
	if fallback <= 0 {
		fallback = DefaultFallback
	}
	return &Controller{timer: timer, fallback: fallback}
}

// Fallback returns the fixed sleep used when no decision is usable
func (c *Controller) Fallback() time.Duration { return c.fallback }

// Duration returns the sleep for d: its own duration when valid, the
// fallback otherwise
func (c *Controller) Duration(d schedule.Decision) time.Duration {
	if !d.Valid {
		return c.fallback
	}
	if d.SleepDuration < 0 {
		return 0
	}
	return d.SleepDuration
}

// EnterLowPowerUntil sleeps until the decision's wake time, or for the
// fallback duration when the decision is invalid
func (c *Controller) EnterLowPowerUntil(ctx context.Context, d schedule.Decision) error {
	if !d.Valid {
		return c.EnterFallback(ctx, "invalid schedule")
	}

	dur := c.Duration(d)
	log.Info().
		Time("next_wake", d.NextWake).
		Str("slot", d.Slot.String()).
		Dur("sleep", dur).
		Msg("Entering low power until next wake")

	return c.sleep(ctx, dur)
}

// EnterFallback sleeps for the fixed fallback duration
func (c *Controller) EnterFallback(ctx context.Context, reason string) error {
	log.Warn().
		Str("reason", reason).
		Dur("sleep", c.fallback).
		Msg("Entering fallback low power")

	return c.sleep(ctx, c.fallback)
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if err := c.timer.SleepFor(ctx, Microseconds(d)); err != nil {
		return fmt.Errorf("failed to enter low power: %w", err)
	}
	return nil
}
