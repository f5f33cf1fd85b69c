package clock

import "time"

// Civil is a calendar/clock view of an instant in a specific zone
type Civil struct {
	Year    int
	Month   time.Month
	Day     int
	Hour    int
	Minute  int
	Second  int
	Weekday time.Weekday
	IsDST   bool
}

// FromTime splits t into its civil fields in t's own location
func FromTime(t time.Time) Civil {
	return Civil{
		Year:    t.Year(),
		Month:   t.Month(),
		Day:     t.Day(),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
		Second:  t.Second(),
		Weekday: t.Weekday(),
		IsDST:   t.IsDST(),
	}
}

// DayKey returns the ISO date used to index a day in provider payloads
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Tomorrow returns midnight of the calendar day after t, in t's location.
// time.Date normalises month and year rollover and DST changes.
func Tomorrow(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// StartOfDay returns midnight of t's calendar day, in t's location
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
