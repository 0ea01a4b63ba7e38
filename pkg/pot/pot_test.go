package pot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/pulsestim/pkg/bus"
	"github.com/ericogr/pulsestim/pkg/hw"
)

func TestFrame(t *testing.T) {
	for step := 0; step <= MaxStep; step++ {
		f := Frame(step)
		require.Len(t, f, 2)
		assert.Equal(t, step, int(f[0])<<8|int(f[1]))
	}
	assert.Equal(t, []byte{0x00, 0x80}, Frame(128))
	assert.Equal(t, []byte{0x00, 0x80}, Frame(4000))
	assert.Equal(t, []byte{0x00, 0x00}, Frame(-1))
}

func TestDigipotOverSimBus(t *testing.T) {
	port := bus.NewSimPort()
	onCS := hw.NewSimLine("cs-on", true)
	ampCS := hw.NewSimLine("cs-amp", true)
	onSim, ampSim := &Sim{}, &Sim{}
	port.Wire(onCS, onSim)
	port.Wire(ampCS, ampSim)

	b := bus.New(port, 0)
	require.NoError(t, b.Attach(bus.Device{Name: "on", Clock: DefaultClock, ChipSelect: onCS}))
	require.NoError(t, b.Attach(bus.Device{Name: "amp", Clock: DefaultClock, ChipSelect: ampCS}))

	ctx := context.Background()
	require.NoError(t, New(b, "on").WriteStep(ctx, 100))
	require.NoError(t, New(b, "amp").WriteStep(ctx, 7))

	assert.Equal(t, 100, onSim.Step())
	assert.Equal(t, 7, ampSim.Step())
	assert.Equal(t, 1, onSim.Writes())

	for _, tx := range port.Log() {
		assert.Equal(t, 976*physic.KiloHertz, tx.Clock)
	}
}

type failBus struct{ err error }

func (f failBus) Tx(context.Context, string, []byte) ([]byte, error) { return nil, f.err }

func TestDigipotError(t *testing.T) {
	boom := errors.New("boom")
	err := New(failBus{boom}, "on").WriteStep(context.Background(), 3)
	assert.ErrorIs(t, err, boom)
}
