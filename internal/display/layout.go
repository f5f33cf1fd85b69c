package display

import (
	"fmt"
	"strings"
)

// Panel layout, landscape pixels
const (
	leftMargin   = 2
	topMargin    = 6
	panelWidth   = 120
	panelHeight  = 100
	panelRadius  = 8
	panelSpacing = 5
	titleY       = 30
	separatorY   = 50
	colorY       = 80
	textOffsetX  = 10
	titleAdjustX = -3
	countersY    = 119

	gaugeBars      = 4
	gaugeBarWidth  = 3
	gaugeBarHeight = 4
	gaugeTopMargin = 10
	gaugeWidth     = (gaugeBarWidth+1)*gaugeBars + 2
	gaugeHeight    = gaugeBarHeight + 4

	// below this percentage the gauge is annotated with the number
	lowBatteryPercent = 25

	// WiFiMarker follows tomorrow's color when the network never came up
	WiFiMarker = " w"
)

// Render draws both day panels. The surface is cleared first; Commit is left
// to the caller.
func Render(s Surface, st State) {
	s.Clear()

	todayX := leftMargin
	tomorrowX := leftMargin + panelWidth + panelSpacing

	drawPanel(s, todayX, st.TodayLabel(), st.Colors.Today.Label())
	if st.Battery.Measured {
		drawGauge(s, todayX+textOffsetX, colorY+gaugeTopMargin, st)
	}

	end := drawPanel(s, tomorrowX, st.TomorrowLabel(), st.Colors.Tomorrow.Label())
	if st.WiFiFailed {
		s.Text(end, colorY, Large, WiFiMarker)
	}

	c := st.Colors
	if c.CountRed+c.CountWhite+c.CountBlue > 0 {
		line := fmt.Sprintf("Bleu %d  Blanc %d  Rouge %d", c.CountBlue, c.CountWhite, c.CountRed)
		s.Text(leftMargin+textOffsetX, countersY, Small, line)
	}
}

// drawPanel draws one day's rounded panel and returns the x after the color label
func drawPanel(s Surface, x int, title, label string) int {
	s.RoundRect(x, topMargin, panelWidth, panelHeight, panelRadius)
	s.Text(x+textOffsetX+titleAdjustX, titleY, Small, title)
	s.Line(x+textOffsetX, separatorY, x+panelWidth-textOffsetX, separatorY)
	return s.Text(x+textOffsetX, colorY, Large, label)
}

func drawGauge(s Surface, x, y int, st State) {
	// body
	s.Line(x, y, x+gaugeWidth, y)
	s.Line(x, y+gaugeHeight, x+gaugeWidth, y+gaugeHeight)
	s.Line(x, y, x, y+gaugeHeight)
	s.Line(x+gaugeWidth, y, x+gaugeWidth, y+gaugeHeight)
	// + pole
	s.FillRect(x+gaugeWidth+1, y+1, 2, gaugeHeight-1)

	for j := 0; j < st.BatteryBars(); j++ {
		s.FillRect(x+2+j*(gaugeBarWidth+1), y+2, gaugeBarWidth, gaugeBarHeight+1)
	}

	if st.Battery.Percentage < lowBatteryPercent {
		s.Text(x+gaugeWidth+5, y+10, Small, fmt.Sprintf("%d%%", st.Battery.Percentage))
	}
}

// Status messages shown instead of the panels
const (
	StatusConnectionError = "Erreur de connexion"
	StatusSleepFallback   = "Err de conn ou de synchro: deep sleep."
)

const (
	consoleX          = 10
	consoleFirstLine  = 12
	consoleLineHeight = 13
)

// Console prints status lines top to bottom, clearing the surface when
// the next line would fall off the bottom.
type Console struct {
	surface Surface
	y       int
}

// NewConsole starts a console at the top of s
func NewConsole(s Surface) *Console {
	return &Console{surface: s, y: consoleFirstLine}
}

// Println draws one status line. Text wider than the surface is split.
func (c *Console) Println(text string) {
	maxChars := (c.surface.Bounds().Dx() - consoleX) / TextWidth(Small, "M")
	for _, line := range wrap(text, maxChars) {
		if c.y > c.surface.Bounds().Dy() {
			c.surface.Clear()
			c.y = consoleFirstLine
		}
		c.surface.Text(consoleX, c.y, Small, line)
		c.y += consoleLineHeight
	}
}

func wrap(text string, width int) []string {
	if width <= 0 || len(text) <= width {
		return []string{text}
	}

	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+1+len(word) > width {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
