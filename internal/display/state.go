// Package display renders a cycle's colors and battery level to a
// 250x122 e-paper panel or a PNG file.
package display

import (
	"fmt"
	"time"

	"github.com/dokzlo13/tempod/internal/battery"
	"github.com/dokzlo13/tempod/internal/provider"
)

// State is everything the layout needs for one frame
type State struct {
	Colors     provider.DayColorState
	Battery    battery.Reading
	Today      time.Time
	Tomorrow   time.Time
	WiFiFailed bool
}

var (
	frenchDays   = [7]string{"Dim", "Lun", "Mar", "Mer", "Jeu", "Ven", "Sam"}
	frenchMonths = [12]string{"Jan", "Fev", "Mar", "Avr", "Mai", "Juin", "Juil", "Aou", "Sep", "Oct", "Nov", "Dec"}
)

// DateLabel formats t as an abbreviated French date, e.g. "Lun 03 Juin"
func DateLabel(t time.Time) string {
	return fmt.Sprintf("%s %02d %s", frenchDays[t.Weekday()], t.Day(), frenchMonths[t.Month()-1])
}

// TodayLabel returns the label for the today panel
func (s State) TodayLabel() string { return DateLabel(s.Today) }

// TomorrowLabel returns the label for the tomorrow panel
func (s State) TomorrowLabel() string { return DateLabel(s.Tomorrow) }

// BatteryBars returns how many of the gauge's 4 bars are filled
func (s State) BatteryBars() int {
	p := s.Battery.Percentage
	switch {
	case p <= 0:
		return 0
	case p >= 100:
		return gaugeBars
	}
	// round half up, p/25
	return (p*2 + 25) / 50
}
