package bus

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/pulsestim/pkg/hw"
)

var ErrContention = errors.New("more than one chip select asserted")

// Responder answers a frame written to a simulated device.
type Responder interface {
	Respond(w []byte) []byte
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(w []byte) []byte

func (f ResponderFunc) Respond(w []byte) []byte { return f(w) }

// SimTx is one exchange seen by a SimPort.
type SimTx struct {
	Clock  physic.Frequency
	Device string
	W      []byte
}

type simDevice struct {
	cs   hw.Line
	resp Responder
}

// SimPort is an in-memory bus. A transfer is routed to the device whose
// chip-select line is low, the way a real shared bus behaves.
type SimPort struct {
	mu      sync.Mutex
	devices []simDevice
	log     []SimTx
	hook    func(SimTx) error
}

var _ Port = (*SimPort)(nil)

func NewSimPort() *SimPort { return &SimPort{} }

// Wire connects r to the bus behind chip-select cs.
func (p *SimPort) Wire(cs hw.Line, r Responder) {
	p.mu.Lock()
	p.devices = append(p.devices, simDevice{cs: cs, resp: r})
	p.mu.Unlock()
}

// OnTx installs a hook run before each exchange; a non-nil error fails it.
func (p *SimPort) OnTx(hook func(SimTx) error) {
	p.mu.Lock()
	p.hook = hook
	p.mu.Unlock()
}

// Log returns the exchanges seen so far.
func (p *SimPort) Log() []SimTx {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SimTx(nil), p.log...)
}

func (p *SimPort) Connect(clock physic.Frequency) (Conn, error) {
	return &simConn{port: p, clock: clock}, nil
}

func (p *SimPort) Close() error { return nil }

type simConn struct {
	port  *SimPort
	clock physic.Frequency
}

func (c *simConn) Tx(w, r []byte) error {
	p := c.port
	p.mu.Lock()
	var target *simDevice
	for i := range p.devices {
		high, err := p.devices[i].cs.Read()
		if err != nil {
			p.mu.Unlock()
			return err
		}
		if high {
			continue
		}
		if target != nil {
			p.mu.Unlock()
			return fmt.Errorf("%s and %s: %w", target.cs.Name(), p.devices[i].cs.Name(), ErrContention)
		}
		target = &p.devices[i]
	}
	tx := SimTx{Clock: c.clock, W: append([]byte(nil), w...)}
	if target != nil {
		tx.Device = target.cs.Name()
	}
	p.log = append(p.log, tx)
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		if err := hook(tx); err != nil {
			return err
		}
	}
	for i := range r {
		r[i] = 0
	}
	if target != nil && target.resp != nil {
		copy(r, target.resp.Respond(w))
	}
	return nil
}
