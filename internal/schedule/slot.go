// Package schedule computes the next wake instant from a fixed table of daily slots.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalid is returned for an empty or malformed slot table
var ErrInvalid = errors.New("invalid wake schedule")

// WakeSlot is a time of day at which the device wakes
type WakeSlot struct {
	Hour   int
	Minute int
}

// Match patterns like "22:15", "06:30"
var slotPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseSlot parses an "HH:MM" slot
func ParseSlot(expr string) (WakeSlot, error) {
	expr = strings.TrimSpace(expr)

	matches := slotPattern.FindStringSubmatch(expr)
	if matches == nil {
		return WakeSlot{}, fmt.Errorf("invalid slot expression: %q", expr)
	}

	hour, _ := strconv.Atoi(matches[1])
	min, _ := strconv.Atoi(matches[2])

	slot := WakeSlot{Hour: hour, Minute: min}
	if !slot.valid() {
		return WakeSlot{}, fmt.Errorf("slot %q out of range", expr)
	}
	return slot, nil
}

// ParseSlots parses a slot table and checks it is strictly increasing
func ParseSlots(exprs []string) ([]WakeSlot, error) {
	if len(exprs) == 0 {
		return nil, fmt.Errorf("%w: no slots", ErrInvalid)
	}

	slots := make([]WakeSlot, 0, len(exprs))
	for _, expr := range exprs {
		slot, err := ParseSlot(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		slots = append(slots, slot)
	}

	if err := Validate(slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// Validate checks that slots is non-empty, in range and strictly ordered by time of day
func Validate(slots []WakeSlot) error {
	if len(slots) == 0 {
		return fmt.Errorf("%w: no slots", ErrInvalid)
	}
	for i, slot := range slots {
		if !slot.valid() {
			return fmt.Errorf("%w: slot %d (%s) out of range", ErrInvalid, i, slot)
		}
		if i > 0 && slot.minuteOfDay() <= slots[i-1].minuteOfDay() {
			return fmt.Errorf("%w: slot %s does not follow %s", ErrInvalid, slot, slots[i-1])
		}
	}
	return nil
}

func (s WakeSlot) valid() bool {
	return s.Hour >= 0 && s.Hour <= 23 && s.Minute >= 0 && s.Minute <= 59
}

func (s WakeSlot) minuteOfDay() int {
	return s.Hour*60 + s.Minute
}

// String returns the slot as "HH:MM"
func (s WakeSlot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}
