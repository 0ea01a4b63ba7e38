package mode

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/pulsestim/pkg/hw"
)

func TestDecodeTable(t *testing.T) {
	tests := []struct {
		name      string
		up, down  bool
		mode      Mode
		duty      float64
		mux       Mux
		flagged   Fields
		undefined bool
	}{
		{"function generator", true, false, FunctionGenerator, 99, MuxExternal, Fields{Amplitude: true}, false},
		{"standby", false, true, Standby, 100, MuxInternal, Fields{true, true, true}, false},
		{"pi pulse", false, false, PiPulse, 99, MuxInternal, Fields{}, false},
		{"both high", true, true, Standby, 100, MuxInternal, Fields{true, true, true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decode(tt.up, tt.down)
			assert.Equal(t, tt.mode, d.Mode)
			assert.Equal(t, tt.duty, d.Duty)
			assert.Equal(t, tt.mux, d.Mux)
			assert.Equal(t, tt.flagged, d.Flagged)
			assert.Equal(t, tt.undefined, d.Undefined)
		})
	}
}

func TestDecodeIsPure(t *testing.T) {
	inputs := [][2]bool{{true, false}, {true, true}, {false, false}, {false, true}, {true, false}}
	first := make(map[[2]bool]Decision)
	for round := 0; round < 3; round++ {
		for _, in := range inputs {
			d := Decode(in[0], in[1])
			if prev, ok := first[in]; ok {
				assert.Equal(t, prev, d, "input %v", in)
			} else {
				first[in] = d
			}
		}
	}
}

func TestApply(t *testing.T) {
	timer := hw.NewSimTimer(100, 99)
	mux := hw.NewSimLine("mux", false)

	require.NoError(t, Apply(Decode(true, false), timer, mux))
	assert.Equal(t, 99.0, timer.DutyCycle())
	assert.True(t, mux.Level())

	require.NoError(t, Apply(Decode(true, true), timer, mux))
	assert.Equal(t, 100.0, timer.DutyCycle())
	assert.False(t, mux.Level())
}

func TestApplyMuxError(t *testing.T) {
	mux := hw.NewSimLine("mux", false)
	boom := errors.New("boom")
	mux.Fail(boom)
	err := Apply(Decode(false, false), hw.NewSimTimer(1, 99), mux)
	assert.ErrorIs(t, err, boom)
}

type failingTimer struct{ err error }

func (f failingTimer) SetFrequency(float64) error { return f.err }
func (f failingTimer) SetDutyCycle(float64) error { return f.err }
func (f failingTimer) Halt() error                { return f.err }

func TestApplyDutyErrorStillDrivesMux(t *testing.T) {
	mux := hw.NewSimLine("mux", true)
	boom := errors.New("pwm gone")
	err := Apply(SafeState(), failingTimer{err: boom}, mux)
	assert.ErrorIs(t, err, boom)
	assert.False(t, mux.Level(), "mux moved to internal despite the duty fault")

	muxErr := errors.New("mux gone")
	mux.Fail(muxErr)
	err = Apply(SafeState(), failingTimer{err: boom}, mux)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, muxErr)
}

func TestSwitch(t *testing.T) {
	up, down := hw.NewSimLine("up", true), hw.NewSimLine("down", false)
	sw := Switch{Up: up, Down: down}
	u, d, err := sw.ReadSwitch()
	require.NoError(t, err)
	assert.True(t, u)
	assert.False(t, d)

	boom := errors.New("boom")
	down.Fail(boom)
	_, _, err = sw.ReadSwitch()
	assert.ErrorIs(t, err, boom)
}

func TestModeText(t *testing.T) {
	assert.Equal(t, "FUNCTION GEN", FunctionGenerator.String())
	assert.Equal(t, "PI PULSE", PiPulse.String())
	assert.Equal(t, "STANDBY", Standby.String())
	assert.Equal(t, "pi_pulse", PiPulse.Key())

	b, err := json.Marshal(map[string]Mode{"mode": FunctionGenerator})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"function_gen"}`, string(b))

	for _, m := range []Mode{Standby, FunctionGenerator, PiPulse} {
		var got Mode
		require.NoError(t, got.UnmarshalText([]byte(m.Key())))
		assert.Equal(t, m, got)
	}
	_, err = Parse("turbo")
	assert.Error(t, err)
}
