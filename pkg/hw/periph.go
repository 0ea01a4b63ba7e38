package hw

import (
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Init loads the periph host drivers. It must run before any pin or SPI port
// is opened.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	return nil
}

// Pin is a Line backed by a periph gpio pin.
type Pin struct {
	pin gpio.PinIO
}

func lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownPin)
	}
	return p, nil
}

// OpenOutput configures name as an output driven to initial.
func OpenOutput(name string, initial bool) (*Pin, error) {
	p, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Level(initial)); err != nil {
		return nil, fmt.Errorf("%s out: %w", name, err)
	}
	return &Pin{pin: p}, nil
}

// OpenInput configures name as an input with the pull resistor left as is.
func OpenInput(name string) (*Pin, error) {
	p, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%s in: %w", name, err)
	}
	return &Pin{pin: p}, nil
}

func (p *Pin) Name() string { return p.pin.Name() }

func (p *Pin) Out(high bool) error { return p.pin.Out(gpio.Level(high)) }

func (p *Pin) Read() (bool, error) { return bool(p.pin.Read()), nil }

// PWMTimer drives a pin with the hardware PWM block.
type PWMTimer struct {
	mu   sync.Mutex
	pin  gpio.PinIO
	hz   float64
	duty float64
}

// OpenPWM starts a PWM output on name at hz with the given duty cycle.
func OpenPWM(name string, hz, percent float64) (*PWMTimer, error) {
	p, err := lookup(name)
	if err != nil {
		return nil, err
	}
	t := &PWMTimer{pin: p, hz: clampFrequency(hz), duty: clampPercent(percent)}
	if err := t.apply(); err != nil {
		return nil, fmt.Errorf("%s pwm: %w", name, err)
	}
	return t, nil
}

// Frequency converts hertz to periph's fixed point representation.
func Frequency(hz float64) physic.Frequency {
	return physic.Frequency(math.Round(hz * float64(physic.Hertz)))
}

// Duty converts a percentage to a periph duty cycle.
func Duty(percent float64) gpio.Duty {
	return gpio.Duty(math.Round(clampPercent(percent) / 100 * float64(gpio.DutyMax)))
}

func (t *PWMTimer) apply() error {
	return t.pin.PWM(Duty(t.duty), Frequency(t.hz))
}

func (t *PWMTimer) SetFrequency(hz float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	hz = clampFrequency(hz)
	if hz == t.hz {
		return nil
	}
	t.hz = hz
	return t.apply()
}

func (t *PWMTimer) SetDutyCycle(percent float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	percent = clampPercent(percent)
	if percent == t.duty {
		return nil
	}
	t.duty = percent
	return t.apply()
}

func (t *PWMTimer) Halt() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pin.Halt()
}
