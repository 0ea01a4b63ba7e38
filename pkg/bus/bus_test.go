package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/pulsestim/pkg/hw"
)

type rig struct {
	bus  *Bus
	port *SimPort
	adc  *hw.SimLine
	pot  *hw.SimLine
}

func newRig(t *testing.T, timeout time.Duration) *rig {
	t.Helper()
	r := &rig{
		port: NewSimPort(),
		adc:  hw.NewSimLine("cs-adc", false),
		pot:  hw.NewSimLine("cs-pot", false),
	}
	r.port.Wire(r.adc, ResponderFunc(func(w []byte) []byte { return []byte{0xAA, 0xBB, 0xCC} }))
	r.port.Wire(r.pot, nil)
	r.bus = New(r.port, timeout)
	require.NoError(t, r.bus.Attach(Device{Name: "adc", Clock: 1350 * physic.KiloHertz, ChipSelect: r.adc}))
	require.NoError(t, r.bus.Attach(Device{Name: "pot", Clock: 976 * physic.KiloHertz, ChipSelect: r.pot}))
	return r
}

func TestAttachReleasesChipSelect(t *testing.T) {
	r := newRig(t, 0)
	assert.True(t, r.adc.Level())
	assert.True(t, r.pot.Level())
}

func TestTxBracketsTransfer(t *testing.T) {
	r := newRig(t, 0)
	var levelDuring bool
	r.port.OnTx(func(SimTx) error {
		levelDuring = r.adc.Level()
		return nil
	})

	resp, err := r.bus.Tx(context.Background(), "adc", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, resp)
	assert.False(t, levelDuring, "chip select must be low during the transfer")
	assert.True(t, r.adc.Level(), "chip select must be released after the transfer")
	_, selected := r.bus.Selected()
	assert.False(t, selected)

	log := r.port.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "cs-adc", log[0].Device)
	assert.Equal(t, 1350*physic.KiloHertz, log[0].Clock)
}

func TestDeviceClocks(t *testing.T) {
	r := newRig(t, 0)
	_, err := r.bus.Tx(context.Background(), "pot", []byte{0, 64})
	require.NoError(t, err)
	_, err = r.bus.Tx(context.Background(), "adc", []byte{1, 0x80, 0})
	require.NoError(t, err)

	log := r.port.Log()
	require.Len(t, log, 2)
	assert.Equal(t, 976*physic.KiloHertz, log[0].Clock)
	assert.Equal(t, 1350*physic.KiloHertz, log[1].Clock)
}

func TestSelectIsExclusive(t *testing.T) {
	r := newRig(t, 0)
	require.NoError(t, r.bus.Select("adc"))
	assert.ErrorIs(t, r.bus.Select("pot"), ErrBusy)
	assert.ErrorIs(t, r.bus.Select("adc"), ErrBusy)
	assert.True(t, r.pot.Level())

	assert.ErrorIs(t, r.bus.Deselect("pot"), ErrNotSelected)
	require.NoError(t, r.bus.Deselect("adc"))
	require.NoError(t, r.bus.Select("pot"))
	require.NoError(t, r.bus.Deselect("pot"))
}

func TestTransferWithoutSelect(t *testing.T) {
	r := newRig(t, 0)
	_, err := r.bus.Transfer(context.Background(), []byte{1})
	assert.ErrorIs(t, err, ErrNotSelected)
}

func TestUnknownDevice(t *testing.T) {
	r := newRig(t, 0)
	_, err := r.bus.Tx(context.Background(), "dac", []byte{1})
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestSimPortDetectsContention(t *testing.T) {
	r := newRig(t, 0)
	require.NoError(t, r.adc.Out(false))
	require.NoError(t, r.pot.Out(false))
	conn, err := r.port.Connect(physic.MegaHertz)
	require.NoError(t, err)
	err = conn.Tx([]byte{1}, make([]byte, 1))
	assert.ErrorIs(t, err, ErrContention)
}

func TestTransferErrorStillDeselects(t *testing.T) {
	r := newRig(t, 0)
	boom := errors.New("boom")
	r.port.OnTx(func(SimTx) error { return boom })
	_, err := r.bus.Tx(context.Background(), "adc", []byte{1, 2, 3})
	assert.ErrorIs(t, err, boom)
	assert.True(t, r.adc.Level())
	_, selected := r.bus.Selected()
	assert.False(t, selected)
}

func TestTimeoutHoldsBusUntilTransferReturns(t *testing.T) {
	r := newRig(t, 5*time.Millisecond)
	unblock := make(chan struct{})
	r.port.OnTx(func(tx SimTx) error {
		if tx.Device == "cs-adc" {
			<-unblock
		}
		return nil
	})

	_, err := r.bus.Tx(context.Background(), "adc", []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTimeout)

	// the abandoned transfer still owns the bus
	assert.False(t, r.adc.Level())
	assert.ErrorIs(t, r.bus.Select("pot"), ErrBusy)
	assert.True(t, r.pot.Level())

	close(unblock)
	require.Eventually(t, func() bool { return r.adc.Level() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, selected := r.bus.Selected()
		return !selected
	}, time.Second, time.Millisecond)

	r.port.OnTx(nil)
	_, err = r.bus.Tx(context.Background(), "pot", []byte{0, 1})
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	r := newRig(t, 0)
	require.NoError(t, r.bus.Select("adc"))
	require.NoError(t, r.bus.Close())
	assert.True(t, r.adc.Level())
}
