// Package serial forwards snapshots to a remote panel over a UART, one CSV
// line per snapshot: mode,amplitude,on_time,delay,flags. flags holds one
// letter per field (A, O, D), upper case when flagged and lower case when
// stale, '-' otherwise.
package serial

import (
	"fmt"
	"io"

	bugst "go.bug.st/serial"

	"github.com/ericogr/pulsestim/pkg/config"
	"github.com/ericogr/pulsestim/pkg/control"
	"github.com/ericogr/pulsestim/pkg/output"
)

const DefaultBaudRate = 115200

type SerialOutput struct {
	port io.WriteCloser
}

// NewSerial opens the configured device.
func NewSerial(cfg config.SerialConfig) (output.Output, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	p, err := bugst.Open(cfg.Device, &bugst.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	return New(p), nil
}

// New wraps an already open port.
func New(port io.WriteCloser) *SerialOutput {
	return &SerialOutput{port: port}
}

func (s *SerialOutput) Publish(snap control.Snapshot) error {
	_, err := io.WriteString(s.port, Line(snap))
	return err
}

func (s *SerialOutput) Close() error { return s.port.Close() }

// Line renders snap in the wire format, newline terminated.
func Line(snap control.Snapshot) string {
	return fmt.Sprintf("%s,%s,%s,%s,%s\n", snap.Mode.Key(), snap.Amplitude, snap.OnTime, snap.Delay, flags(snap))
}

func flags(snap control.Snapshot) string {
	b := []byte("---")
	mark := func(i int, letter byte, isFlagged, isStale bool) {
		switch {
		case isFlagged:
			b[i] = letter
		case isStale:
			b[i] = letter + ('a' - 'A')
		}
	}
	mark(0, 'A', snap.Flagged.Amplitude, snap.Stale.Amplitude)
	mark(1, 'O', snap.Flagged.OnTime, snap.Stale.OnTime)
	mark(2, 'D', snap.Flagged.Delay, snap.Stale.Delay)
	return string(b)
}
