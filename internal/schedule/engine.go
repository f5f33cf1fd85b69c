package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Decision is the outcome of one scheduling computation
type Decision struct {
	NextWake      time.Time
	SleepDuration time.Duration
	Slot          WakeSlot
	Valid         bool
}

// SleepSeconds returns the sleep duration in whole seconds
func (d Decision) SleepSeconds() int64 {
	return int64(d.SleepDuration / time.Second)
}

// NextWake returns the earliest slot strictly after now, or the first slot of the
// following calendar day. Slot times are wall-clock times in now's location.
// An invalid slot table yields a Decision with Valid == false.
func NextWake(now time.Time, slots []WakeSlot) Decision {
	if err := Validate(slots); err != nil {
		return Decision{}
	}

	loc := now.Location()
	for _, slot := range slots {
		// A slot falling in a DST gap is normalised forward by time.Date
		t := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, slot.Minute, 0, 0, loc)
		if t.After(now) {
			return newDecision(now, t, slot)
		}
	}

	first := slots[0]
	t := time.Date(now.Year(), now.Month(), now.Day()+1, first.Hour, first.Minute, 0, 0, loc)
	return newDecision(now, t, first)
}

func newDecision(now, next time.Time, slot WakeSlot) Decision {
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	return Decision{
		NextWake:      next,
		SleepDuration: d,
		Slot:          slot,
		Valid:         true,
	}
}

// FormatForDay returns a human-readable wake table for now's calendar day.
func FormatForDay(now time.Time, slots []WakeSlot) string {
	var sb strings.Builder
	loc := now.Location()

	sb.WriteString(fmt.Sprintf("Wake schedule for %s (timezone: %s)\n", now.Format("2006-01-02"), loc.String()))
	sb.WriteString(fmt.Sprintf("%-3s %-8s %-25s\n", "", "SLOT", "TIME"))
	sb.WriteString(strings.Repeat("-", 40) + "\n")

	if len(slots) == 0 {
		sb.WriteString("No wake slots configured\n")
		return sb.String()
	}

	next := NextWake(now, slots)
	for _, slot := range slots {
		t := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, slot.Minute, 0, 0, loc)
		status := " "
		if !t.After(now) {
			status = "✓"
		} else if next.Valid && t.Equal(next.NextWake) {
			status = "→"
		}
		sb.WriteString(fmt.Sprintf("%-3s %-8s %-25s\n", status, slot.String(), t.Format(time.RFC3339)))
	}

	if next.Valid {
		sb.WriteString(fmt.Sprintf("\nNext wake: %s (in %s)\n", next.NextWake.Format(time.RFC3339), next.SleepDuration))
	}
	return sb.String()
}
