// Package bus serialises access to the shared SPI bus. Devices are addressed
// through their own active-low chip-select line and each one talks at its own
// clock rate. At most one device is selected at any time.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/pulsestim/pkg/hw"
)

var (
	ErrUnknownDevice = errors.New("unknown bus device")
	ErrBusy          = errors.New("bus busy")
	ErrNotSelected   = errors.New("device not selected")
	ErrTimeout       = errors.New("bus transaction timed out")
)

// Conn performs a synchronous full-duplex exchange. len(r) == len(w).
type Conn interface {
	Tx(w, r []byte) error
}

// Port hands out connections running at a given clock rate.
type Port interface {
	Connect(clock physic.Frequency) (Conn, error)
	Close() error
}

// Transactor runs one bracketed transaction against a named device.
type Transactor interface {
	Tx(ctx context.Context, device string, w []byte) ([]byte, error)
}

// Device is a peripheral attached to the bus.
type Device struct {
	Name       string
	Clock      physic.Frequency
	ChipSelect hw.Line
}

type attached struct {
	Device
	conn Conn
}

type Bus struct {
	port    Port
	timeout time.Duration

	mu       sync.Mutex
	devices  map[string]*attached
	selected *attached
	inflight bool
	// release is set when Deselect was called while an abandoned transfer
	// still owns the bus.
	release bool
}

var _ Transactor = (*Bus)(nil)

// New returns a bus on port. A zero timeout disables the per-transfer bound.
func New(port Port, timeout time.Duration) *Bus {
	return &Bus{port: port, timeout: timeout, devices: make(map[string]*attached)}
}

// Attach registers d and drives its chip-select inactive.
func (b *Bus) Attach(d Device) error {
	if d.Name == "" || d.ChipSelect == nil {
		return fmt.Errorf("attach %q: name and chip select are required", d.Name)
	}
	conn, err := b.port.Connect(d.Clock)
	if err != nil {
		return fmt.Errorf("attach %s: %w", d.Name, err)
	}
	if err := d.ChipSelect.Out(true); err != nil {
		return fmt.Errorf("attach %s: release cs: %w", d.Name, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[d.Name] = &attached{Device: d, conn: conn}
	return nil
}

// Select asserts the chip-select of name.
func (b *Bus) Select(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected != nil {
		return fmt.Errorf("select %s: %s still selected: %w", name, b.selected.Name, ErrBusy)
	}
	if b.inflight {
		return fmt.Errorf("select %s: %w", name, ErrBusy)
	}
	d, ok := b.devices[name]
	if !ok {
		return fmt.Errorf("select %s: %w", name, ErrUnknownDevice)
	}
	if err := d.ChipSelect.Out(false); err != nil {
		return fmt.Errorf("select %s: %w", name, err)
	}
	b.selected = d
	return nil
}

// Deselect releases the chip-select of name. If a timed out transfer is
// still running the line is released once it returns.
func (b *Bus) Deselect(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected == nil || b.selected.Name != name {
		return fmt.Errorf("deselect %s: %w", name, ErrNotSelected)
	}
	if b.inflight {
		b.release = true
		return nil
	}
	return b.releaseLocked()
}

func (b *Bus) releaseLocked() error {
	d := b.selected
	b.selected = nil
	b.release = false
	if err := d.ChipSelect.Out(true); err != nil {
		return fmt.Errorf("deselect %s: %w", d.Name, err)
	}
	return nil
}

// Transfer exchanges w with the selected device at its clock rate.
func (b *Bus) Transfer(ctx context.Context, w []byte) ([]byte, error) {
	b.mu.Lock()
	d := b.selected
	switch {
	case d == nil:
		b.mu.Unlock()
		return nil, fmt.Errorf("transfer: %w", ErrNotSelected)
	case b.inflight:
		b.mu.Unlock()
		return nil, fmt.Errorf("transfer %s: %w", d.Name, ErrBusy)
	}
	b.inflight = true
	b.mu.Unlock()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	r := make([]byte, len(w))
	done := make(chan error, 1)
	go func() {
		err := d.conn.Tx(w, r)
		b.mu.Lock()
		b.inflight = false
		if b.release && b.selected == d {
			if rerr := b.releaseLocked(); rerr != nil {
				log.Printf("bus: %v", rerr)
			}
		}
		b.mu.Unlock()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", d.Name, err)
		}
		return r, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("transfer %s: %w", d.Name, ErrTimeout)
		}
		return nil, fmt.Errorf("transfer %s: %w", d.Name, ctx.Err())
	}
}

// Tx brackets a transfer with Select and Deselect of device.
func (b *Bus) Tx(ctx context.Context, device string, w []byte) (r []byte, err error) {
	if err := b.Select(device); err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, b.Deselect(device))
	}()
	return b.Transfer(ctx, w)
}

// Selected returns the name of the selected device, if any.
func (b *Bus) Selected() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected == nil {
		return "", false
	}
	return b.selected.Name, true
}

// Close releases every chip-select and closes the port.
func (b *Bus) Close() error {
	b.mu.Lock()
	var err error
	for _, d := range b.devices {
		err = multierr.Append(err, d.ChipSelect.Out(true))
	}
	b.selected = nil
	b.mu.Unlock()
	return multierr.Append(err, b.port.Close())
}
