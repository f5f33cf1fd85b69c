// Package clock resolves a trustworthy current time from the network and the local clock.
package clock

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // devices ship without a zoneinfo database

	"github.com/rs/zerolog/log"
)

// DefaultMinYear is the plausibility floor: readings must be strictly after this year.
const DefaultMinYear = 2016

// ErrUnset is returned when no source yields a plausible time
var ErrUnset = errors.New("clock is unset")

// Source identifies where a resolved time came from
type Source string

const (
	SourceNetwork Source = "ntp"
	SourceRTC     Source = "rtc"
)

// LocalClock is the device's own real-time clock
type LocalClock interface {
	Now() time.Time
}

// NetworkSource queries a network time service
type NetworkSource interface {
	Query(ctx context.Context) (time.Time, error)
}

// SystemClock reads the host clock
type SystemClock struct{}

// Now returns the host's current time
func (SystemClock) Now() time.Time { return time.Now() }

// RetryPolicy bounds network synchronisation: at most MaxAttempts queries, Spacing apart
type RetryPolicy struct {
	MaxAttempts int
	Spacing     time.Duration
}

// DefaultRetryPolicy caps synchronisation at roughly ten seconds
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Spacing: 2 * time.Second}

// Resolution is the outcome of a successful Resolve
type Resolution struct {
	Time     time.Time
	Source   Source
	Attempts int
}

// Civil returns the civil view of the resolved time
func (r Resolution) Civil() Civil {
	return FromTime(r.Time)
}

// Resolver produces the current time from a network source and a local clock.
// A successful network sync disciplines the local clock through an offset.
type Resolver struct {
	local   LocalClock
	network NetworkSource
	policy  RetryPolicy
	tz      *time.Location
	minYear int

	// offset from the last successful sync; stands in for a set RTC and
	// outlives the cycle that measured it
	offset time.Duration

	// sleep waits between sync attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a resolver. network may be nil when no time service is available.
func NewResolver(local LocalClock, network NetworkSource, policy RetryPolicy, tz *time.Location, minYear int) *Resolver {
	if local == nil {
		local = SystemClock{}
	}
	if tz == nil {
		tz = time.UTC
	}
	if minYear == 0 {
		minYear = DefaultMinYear
	}
	return &Resolver{
		local:   local,
		network: network,
		policy:  policy,
		tz:      tz,
		minYear: minYear,
		sleep:   sleepContext,
	}
}

// Location returns the zone resolved times are expressed in
func (r *Resolver) Location() *time.Location {
	return r.tz
}

// Now reads the local clock with the last synchronised offset applied.
// It does not check plausibility; call Resolve first.
func (r *Resolver) Now() time.Time {
	return r.local.Now().Add(r.offset).In(r.tz)
}

// Plausible reports whether t looks like a set clock rather than a power-on default
func (r *Resolver) Plausible(t time.Time) bool {
	return t.Year() > r.minYear
}

// Resolve returns the current time. When connected, the network source is tried first
// under the retry policy; the local clock is then read once more and must pass the
// plausibility check, otherwise ErrUnset is returned.
func (r *Resolver) Resolve(ctx context.Context, connected bool) (Resolution, error) {
	attempts := 0
	synced := false

	if connected && r.network != nil {
		log.Info().Int("max_attempts", r.policy.MaxAttempts).Msg("Attempting network time synchronisation")
		attempts, synced = r.sync(ctx)
		if !synced {
			log.Warn().Int("attempts", attempts).Msg("Network time synchronisation failed, falling back to local clock")
		}
	}

	now := r.local.Now().Add(r.offset)
	if !r.Plausible(now) {
		log.Error().
			Time("reading", now).
			Int("min_year", r.minYear).
			Msg("Local clock reading is not plausible")
		return Resolution{Attempts: attempts}, fmt.Errorf("%w: year %d", ErrUnset, now.Year())
	}

	source := SourceRTC
	if synced {
		source = SourceNetwork
	}

	res := Resolution{
		Time:     now.In(r.tz),
		Source:   source,
		Attempts: attempts,
	}

	log.Info().
		Str("source", string(source)).
		Time("now", res.Time).
		Bool("dst", res.Time.IsDST()).
		Msg("Clock resolved")

	return res, nil
}

// sync runs the bounded retry loop and returns the number of attempts made
func (r *Resolver) sync(ctx context.Context) (int, bool) {
	attempts := 0
	for attempts < r.policy.MaxAttempts {
		if attempts > 0 {
			if err := r.sleep(ctx, r.policy.Spacing); err != nil {
				return attempts, false
			}
		}
		attempts++

		t, err := r.network.Query(ctx)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempts).Msg("Waiting for network time")
			continue
		}
		if !r.Plausible(t) {
			log.Debug().Time("reading", t).Int("attempt", attempts).Msg("Network time not plausible")
			continue
		}

		r.offset = t.Sub(r.local.Now())
		log.Info().
			Int("attempt", attempts).
			Dur("offset", r.offset).
			Msg("Network time synchronised")
		return attempts, true
	}
	return attempts, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LoadZone loads a named zone from the embedded tz database
func LoadZone(name string) (*time.Location, error) {
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	return tz, nil
}
