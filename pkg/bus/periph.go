package bus

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// SPIPort opens the named spidev once per clock rate. periph fixes the clock
// of a connection at Connect time, so devices with different rates get their
// own handle on the same bus.
type SPIPort struct {
	name string
	mode spi.Mode

	mu    sync.Mutex
	ports []spi.PortCloser
	conns map[physic.Frequency]spi.Conn
}

var _ Port = (*SPIPort)(nil)

// NewSPIPort returns a Port for name (e.g. "/dev/spidev0.0" or "SPI0.0").
// hw.Init must have been called.
func NewSPIPort(name string) *SPIPort {
	return &SPIPort{name: name, mode: spi.Mode0, conns: make(map[physic.Frequency]spi.Conn)}
}

func (p *SPIPort) Connect(clock physic.Frequency) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[clock]; ok {
		return c, nil
	}
	pc, err := spireg.Open(p.name)
	if err != nil {
		return nil, fmt.Errorf("open spi %s: %w", p.name, err)
	}
	c, err := pc.Connect(clock, p.mode, 8)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("connect spi %s at %s: %w", p.name, clock, err), pc.Close())
	}
	p.ports = append(p.ports, pc)
	p.conns[clock] = c
	return c, nil
}

func (p *SPIPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for _, pc := range p.ports {
		err = multierr.Append(err, pc.Close())
	}
	p.ports = nil
	p.conns = make(map[physic.Frequency]spi.Conn)
	return err
}
