// Package pot drives the 7-bit SPI digital potentiometers (129 wiper
// positions, 0..128) that set the pulse on-time and amplitude.
package pot

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/pulsestim/pkg/bus"
)

const (
	MaxStep = 128

	DefaultClock = 976 * physic.KiloHertz
)

// Writer sets the wiper position of one potentiometer.
type Writer interface {
	WriteStep(ctx context.Context, step int) error
}

// Clamp limits step to the wiper range.
func Clamp(step int) int {
	if step < 0 {
		return 0
	}
	if step > MaxStep {
		return MaxStep
	}
	return step
}

// Frame encodes step as a 16-bit big-endian write.
func Frame(step int) []byte {
	v := uint16(Clamp(step))
	return []byte{byte(v >> 8), byte(v & 0xFF)}
}

type Digipot struct {
	bus    bus.Transactor
	device string
}

var _ Writer = (*Digipot)(nil)

func New(b bus.Transactor, device string) *Digipot {
	return &Digipot{bus: b, device: device}
}

func (d *Digipot) WriteStep(ctx context.Context, step int) error {
	if _, err := d.bus.Tx(ctx, d.device, Frame(step)); err != nil {
		return fmt.Errorf("write %s step %d: %w", d.device, step, err)
	}
	return nil
}

// Sim records the wiper position decoded from frames it receives.
type Sim struct {
	mu     sync.Mutex
	step   int
	writes int
}

func (s *Sim) Respond(w []byte) []byte {
	if len(w) == 2 {
		s.mu.Lock()
		s.step = int(w[0])<<8 | int(w[1])
		s.writes++
		s.mu.Unlock()
	}
	return make([]byte, len(w))
}

func (s *Sim) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Sim) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
