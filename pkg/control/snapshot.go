package control

import (
	"time"

	"github.com/ericogr/pulsestim/pkg/mode"
)

// RawCodes are the ADC codes a Snapshot was computed from.
type RawCodes struct {
	Delay     int `json:"delay"`
	OnTime    int `json:"on_time"`
	Amplitude int `json:"amplitude"`
}

// Snapshot is the state of the controller after one tick. The display strings
// carry two decimals: amplitude in V, on-time in ms, delay in s.
type Snapshot struct {
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`

	Mode mode.Mode `json:"mode"`
	// Undefined is set when the switch reported a combination with no
	// meaning and Mode fell back to Standby.
	Undefined bool `json:"undefined_switch,omitempty"`

	Amplitude string `json:"amplitude"`
	OnTime    string `json:"on_time"`
	Delay     string `json:"delay"`

	// Flagged fields do not affect the output in this mode.
	Flagged mode.Fields `json:"flagged"`
	// Stale fields were carried over from the previous tick after a fault.
	Stale mode.Fields `json:"stale"`

	PulseHz       float64  `json:"pulse_hz"`
	OnTimeStep    int      `json:"on_time_step"`
	AmplitudeStep int      `json:"amplitude_step"`
	Raw           RawCodes `json:"raw"`
}

// Display receives every Snapshot the loop produces.
type Display interface {
	Publish(Snapshot) error
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(Snapshot) error

func (f DisplayFunc) Publish(s Snapshot) error { return f(s) }
