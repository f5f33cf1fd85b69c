package provider

import "strings"

// Color is a Tempo day color
type Color int

const (
	Unavailable Color = iota
	Blue
	White
	Red
)

// UnavailableLabel is rendered when a day's color is not known
const UnavailableLabel = "N/A"

// ParseColor maps a provider token to a Color. Both the provider tokens
// (BLUE, WHITE, RED) and the localized labels are accepted; anything else,
// including "null" and the empty string, is Unavailable.
func ParseColor(token string) Color {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "BLUE", "BLEU":
		return Blue
	case "WHITE", "BLANC":
		return White
	case "RED", "ROUGE":
		return Red
	default:
		return Unavailable
	}
}

// MapColor maps a provider token to its localized label.
// MapColor(MapColor(x)) == MapColor(x) for every x.
func MapColor(token string) string {
	return ParseColor(token).Label()
}

// Label returns the localized label shown on the display
func (c Color) Label() string {
	switch c {
	case Blue:
		return "BLEU"
	case White:
		return "BLANC"
	case Red:
		return "ROUGE"
	default:
		return UnavailableLabel
	}
}

// String returns the provider token for c
func (c Color) String() string {
	switch c {
	case Blue:
		return "BLUE"
	case White:
		return "WHITE"
	case Red:
		return "RED"
	default:
		return "UNAVAILABLE"
	}
}

// Known reports whether c is an actual color rather than Unavailable
func (c Color) Known() bool {
	return c != Unavailable
}

// MarshalText implements encoding.TextMarshaler
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
