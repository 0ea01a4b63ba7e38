// Package sensor reads the analog front panel through an MCP3008 10-bit ADC.
package sensor

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/pulsestim/pkg/bus"
)

const (
	MaxChannel = 7
	MaxRaw     = 1023

	DefaultClock = 1350 * physic.KiloHertz
)

var (
	ErrInvalidChannel = errors.New("invalid adc channel")
	ErrShortFrame     = errors.New("malformed adc response")
)

type MCP3008 struct {
	bus    bus.Transactor
	device string
}

var _ ChannelReader = (*MCP3008)(nil)

// NewMCP3008 returns a reader for the ADC attached to b as device.
func NewMCP3008(b bus.Transactor, device string) *MCP3008 {
	return &MCP3008{bus: b, device: device}
}

func (m *MCP3008) ReadChannel(ctx context.Context, channel int) (int, error) {
	req, err := requestFrame(channel)
	if err != nil {
		return 0, err
	}
	resp, err := m.bus.Tx(ctx, m.device, req)
	if err != nil {
		return 0, fmt.Errorf("read channel %d: %w", channel, err)
	}
	raw, err := parseFrame(resp)
	if err != nil {
		return 0, fmt.Errorf("read channel %d: %w", channel, err)
	}
	return raw, nil
}
