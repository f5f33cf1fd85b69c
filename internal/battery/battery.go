// Package battery turns raw ADC samples into a voltage and a charge percentage.
package battery

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// MaxRaw is the largest sample of the 12-bit converter
	MaxRaw = 4095

	DefaultScale = 7.05
	DefaultFull  = 4.2
	DefaultEmpty = 3.5

	// Samples at or below this voltage mean the divider is disconnected
	minValidVoltage = 1.0
)

// Reading is one battery measurement
type Reading struct {
	Raw        int     `json:"raw"`
	Voltage    float64 `json:"voltage"`
	Percentage int     `json:"percentage"`
	Measured   bool    `json:"measured"` // a sample was taken this cycle
	Valid      bool    `json:"valid"`    // voltage above the disconnected threshold
}

// Curve converts samples using a divider scale and the cell's usable range
type Curve struct {
	Scale float64
	Full  float64
	Empty float64
}

// DefaultCurve returns the calibration of a single Li-ion cell
func DefaultCurve() Curve {
	return Curve{Scale: DefaultScale, Full: DefaultFull, Empty: DefaultEmpty}
}

// Voltage converts a raw sample to volts
func (c Curve) Voltage(raw int) float64 {
	return float64(raw) / 4096 * c.Scale
}

// Percentage maps a cell voltage to a charge percentage in [0, 100].
// The discharge curve is a fitted quartic; its coefficients are calibration
// constants for the reference cell.
func (c Curve) Percentage(v float64) int {
	if v <= minValidVoltage || v <= c.Empty {
		return 0
	}
	if v >= c.Full {
		return 100
	}

	p := 2836.9625*v*v*v*v - 43987.4889*v*v*v + 255233.8134*v*v - 656689.7123*v + 632041.7303
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

// FromRaw builds a Reading from a raw sample
func (c Curve) FromRaw(raw int) Reading {
	v := c.Voltage(raw)
	return Reading{
		Raw:        raw,
		Voltage:    v,
		Percentage: c.Percentage(v),
		Measured:   true,
		Valid:      v > minValidVoltage,
	}
}

// Sensor samples the battery ADC
type Sensor interface {
	Sample(ctx context.Context) (int, error)
}

// FileSensor reads a raw sample from a sysfs file such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw
type FileSensor struct {
	path string
}

// NewFileSensor creates a sensor reading path
func NewFileSensor(path string) *FileSensor {
	return &FileSensor{path: path}
}

// Sample reads and parses one raw sample
func (s *FileSensor) Sample(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read battery sample: %w", err)
	}

	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid battery sample %q: %w", strings.TrimSpace(string(data)), err)
	}
	if raw < 0 || raw > MaxRaw {
		return 0, fmt.Errorf("battery sample %d out of range [0, %d]", raw, MaxRaw)
	}
	return raw, nil
}
