// Package units converts raw ADC codes to the physical quantities shown to the
// operator and to the wiper steps written to the potentiometers.
package units

import (
	"math"
	"strconv"

	"github.com/ericogr/pulsestim/pkg/pot"
	"github.com/ericogr/pulsestim/pkg/sensor"
)

// Mapping is a linear interpolation from Domain to Range. Inputs outside the
// domain are clamped to its ends, so the output never leaves Range.
type Mapping struct {
	Domain [2]float64
	Range  [2]float64
}

func (m Mapping) At(x float64) float64 {
	d0, d1 := m.Domain[0], m.Domain[1]
	r0, r1 := m.Range[0], m.Range[1]
	if d0 == d1 {
		return r0
	}
	lo, hi := math.Min(d0, d1), math.Max(d0, d1)
	if math.IsNaN(x) || x < lo {
		x = lo
	} else if x > hi {
		x = hi
	}
	return r0 + (x-d0)*(r1-r0)/(d1-d0)
}

var (
	// PulseRate maps the delay knob to the pulse timer frequency in Hz.
	PulseRate = Mapping{Domain: [2]float64{0, sensor.MaxRaw}, Range: [2]float64{1.0, 0.1}}
	// OnTimeWiper is inverted: turning the knob up lowers the wiper.
	OnTimeWiper    = Mapping{Domain: [2]float64{0, sensor.MaxRaw}, Range: [2]float64{pot.MaxStep, 0}}
	AmplitudeWiper = Mapping{Domain: [2]float64{0, sensor.MaxRaw}, Range: [2]float64{0, pot.MaxStep}}
)

const (
	onTimeBaseMillis = 0.250
	onTimeMillisStep = 0.037109
	voltsPerStep     = 0.0391
)

// PulseFrequency is the timer repetition rate in Hz for the delay knob, in
// [0.1, 1.0]. The delay between pulses is its reciprocal.
func PulseFrequency(raw int) float64 {
	return PulseRate.At(float64(raw))
}

// DelaySeconds is the interval between pulses at hz.
func DelaySeconds(hz float64) float64 {
	if hz <= 0 {
		return 0
	}
	return 1 / hz
}

func wiper(m Mapping, raw int) int {
	return pot.Clamp(int(math.Round(m.At(float64(raw)))))
}

func OnTimeStep(raw int) int    { return wiper(OnTimeWiper, raw) }
func AmplitudeStep(raw int) int { return wiper(AmplitudeWiper, raw) }

// OnTimeMillis is the 555 output on-time for a wiper step. The timing
// network is only approximately linear; 0.037109 ms/step is the fitted slope.
func OnTimeMillis(step int) float64 {
	return onTimeBaseMillis + float64(pot.MaxStep-pot.Clamp(step))*onTimeMillisStep
}

// AmplitudeVolts is 5 V full scale over 128 steps.
func AmplitudeVolts(step int) float64 {
	return float64(pot.Clamp(step)) * voltsPerStep
}

// Format renders v with two decimals.
func Format(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
