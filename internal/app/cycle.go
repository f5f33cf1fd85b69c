package app

import (
	"time"

	"github.com/dokzlo13/tempod/internal/battery"
	"github.com/dokzlo13/tempod/internal/clock"
	"github.com/dokzlo13/tempod/internal/provider"
	"github.com/dokzlo13/tempod/internal/schedule"
)

// Cycle is everything one wake cycle learns. It starts from a clean slate
// every time and is owned by the goroutine running the cycle.
type Cycle struct {
	ID      string
	Started time.Time

	Battery    battery.Reading
	WiFiFailed bool

	Clock    clock.Resolution
	ClockErr error

	Provider string
	Colors   provider.DayColorState
	Fetch    provider.FetchOutcome
	FetchErr error

	Decision       schedule.Decision
	Sleep          time.Duration
	Fallback       bool
	FallbackReason string
}

func newCycle(id string) *Cycle {
	colors := provider.NewDayColorState()
	colors.DeriveFound()
	return &Cycle{
		ID:      id,
		Started: time.Now(),
		Colors:  colors,
	}
}

// Today returns the resolved current time
func (c *Cycle) Today() time.Time { return c.Clock.Time }

// Tomorrow returns midnight of the next calendar day
func (c *Cycle) Tomorrow() time.Time { return clock.Tomorrow(c.Clock.Time) }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
