// Package mode decodes the three position front panel switch into the
// operating mode and the pulse timer / multiplexer settings it implies.
package mode

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/ericogr/pulsestim/pkg/hw"
)

type Mode int

// The zero value is Standby, which keeps the pulse output disabled.
const (
	Standby Mode = iota
	FunctionGenerator
	PiPulse
)

func (m Mode) String() string {
	switch m {
	case Standby:
		return "STANDBY"
	case FunctionGenerator:
		return "FUNCTION GEN"
	case PiPulse:
		return "PI PULSE"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.Key()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Key is the machine-friendly name used in payloads and config.
func (m Mode) Key() string {
	return strings.ReplaceAll(strings.ToLower(m.String()), " ", "_")
}

func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standby":
		return Standby, nil
	case "function_gen", "function-gen", "function gen", "function_generator":
		return FunctionGenerator, nil
	case "pi_pulse", "pi-pulse", "pi pulse":
		return PiPulse, nil
	}
	return Standby, fmt.Errorf("unknown mode %q", s)
}

// Mux is the level of the multiplexer select line.
type Mux bool

const (
	MuxInternal Mux = false
	MuxExternal Mux = true
)

const (
	DutyPassThrough = 99.0
	DutyDisabled    = 100.0
)

// Fields marks the display fields that have no effect on the output in the
// current mode. The display decides how to render them.
type Fields struct {
	Amplitude bool `json:"amplitude"`
	OnTime    bool `json:"on_time"`
	Delay     bool `json:"delay"`
}

type Decision struct {
	Mode Mode
	// Duty is the pulse timer duty cycle in percent.
	Duty float64
	Mux  Mux
	// Flagged fields are shown but not authoritative.
	Flagged Fields
	// Undefined is set when both switch lines were high.
	Undefined bool
}

var (
	functionGenerator = Decision{Mode: FunctionGenerator, Duty: DutyPassThrough, Mux: MuxExternal, Flagged: Fields{Amplitude: true}}
	standby           = Decision{Mode: Standby, Duty: DutyDisabled, Mux: MuxInternal, Flagged: Fields{Amplitude: true, OnTime: true, Delay: true}}
	piPulse           = Decision{Mode: PiPulse, Duty: DutyPassThrough, Mux: MuxInternal}
)

// Decode maps the switch lines to a Decision. Both lines high has no wired
// meaning and falls back to Standby.
func Decode(up, down bool) Decision {
	switch {
	case up && !down:
		return functionGenerator
	case !up && down:
		return standby
	case !up && !down:
		return piPulse
	}
	d := standby
	d.Undefined = true
	return d
}

// SafeState is the decision applied when the switch cannot be trusted or
// the controller is stopping.
func SafeState() Decision {
	return standby
}

// SwitchReader reads the up and down switch lines.
type SwitchReader interface {
	ReadSwitch() (up, down bool, err error)
}

// Switch reads the two switch lines.
type Switch struct {
	Up   hw.Line
	Down hw.Line
}

var _ SwitchReader = Switch{}

func (s Switch) ReadSwitch() (up, down bool, err error) {
	if up, err = s.Up.Read(); err != nil {
		return false, false, fmt.Errorf("read %s: %w", s.Up.Name(), err)
	}
	if down, err = s.Down.Read(); err != nil {
		return false, false, fmt.Errorf("read %s: %w", s.Down.Name(), err)
	}
	return up, down, nil
}

// Apply drives the pulse timer duty cycle and the multiplexer select line.
// The mux is written even when the duty cycle could not be set.
func Apply(d Decision, timer hw.PulseTimer, mux hw.Line) error {
	var err error
	if derr := timer.SetDutyCycle(d.Duty); derr != nil {
		err = multierr.Append(err, fmt.Errorf("set duty %.0f%%: %w", d.Duty, derr))
	}
	if merr := mux.Out(bool(d.Mux)); merr != nil {
		err = multierr.Append(err, fmt.Errorf("set mux: %w", merr))
	}
	return err
}
