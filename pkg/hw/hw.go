// Package hw holds the single-bit digital lines and the pulse timer used by the
// controller. The periph implementation drives real pins; the Sim types keep
// the state in memory so the rest of the program runs without hardware.
package hw

import (
	"errors"
	"math"
)

var ErrUnknownPin = errors.New("unknown gpio pin")

// Line is a single-bit digital line. Outputs can be read back.
type Line interface {
	Name() string
	Out(high bool) error
	Read() (bool, error)
}

// PulseTimer is a periodic output whose frequency and duty cycle can be
// changed independently.
type PulseTimer interface {
	SetFrequency(hz float64) error
	SetDutyCycle(percent float64) error
	Halt() error
}

const (
	MinFrequency = 0.01
	MaxFrequency = 1e6
)

func clampFrequency(hz float64) float64 {
	if math.IsNaN(hz) || hz < MinFrequency {
		return MinFrequency
	}
	if hz > MaxFrequency {
		return MaxFrequency
	}
	return hz
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
