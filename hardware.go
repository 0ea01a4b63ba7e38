package main

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/pulsestim/pkg/bus"
	"github.com/ericogr/pulsestim/pkg/config"
	"github.com/ericogr/pulsestim/pkg/control"
	"github.com/ericogr/pulsestim/pkg/hw"
	"github.com/ericogr/pulsestim/pkg/mode"
	"github.com/ericogr/pulsestim/pkg/pot"
	"github.com/ericogr/pulsestim/pkg/sensor"
)

const (
	devADC       = "adc"
	devOnTime    = "pot-on-time"
	devAmplitude = "pot-amplitude"
)

// board owns the opened hardware and the loop's view of it.
type board struct {
	control.Hardware
	bus   *bus.Bus
	timer hw.PulseTimer
}

func (b *board) Close() error {
	return multierr.Combine(b.bus.Close(), b.timer.Halt())
}

type lines struct {
	adcCS, onCS, ampCS, mux, up, down hw.Line
	timer                             hw.PulseTimer
	port                              bus.Port
}

func openHardware(cfg config.Config) (*board, error) {
	var (
		l   lines
		err error
	)
	switch cfg.HardwareType {
	case config.HardwareSimulation:
		l, err = simulatedLines(cfg)
	default:
		l, err = periphLines(cfg)
	}
	if err != nil {
		return nil, err
	}
	return assemble(cfg, l)
}

func assemble(cfg config.Config, l lines) (*board, error) {
	b := bus.New(l.port, time.Duration(cfg.SPI.TimeoutMs)*time.Millisecond)
	adcClock := physic.Frequency(cfg.SPI.ADCClockHz) * physic.Hertz
	potClock := physic.Frequency(cfg.SPI.PotClockHz) * physic.Hertz
	for _, d := range []bus.Device{
		{Name: devADC, Clock: adcClock, ChipSelect: l.adcCS},
		{Name: devOnTime, Clock: potClock, ChipSelect: l.onCS},
		{Name: devAmplitude, Clock: potClock, ChipSelect: l.ampCS},
	} {
		if err := b.Attach(d); err != nil {
			return nil, multierr.Combine(err, b.Close(), l.halt())
		}
	}
	return &board{
		Hardware: control.Hardware{
			ADC:       sensor.NewMCP3008(b, devADC),
			OnTime:    pot.New(b, devOnTime),
			Amplitude: pot.New(b, devAmplitude),
			Timer:     l.timer,
			Mux:       l.mux,
			Switch:    mode.Switch{Up: l.up, Down: l.down},
		},
		bus:   b,
		timer: l.timer,
	}, nil
}

// halt stops the pulse output if it was started. Chip selects and the mux
// are already at their idle levels.
func (l lines) halt() error {
	if l.timer == nil {
		return nil
	}
	return l.timer.Halt()
}

func periphLines(cfg config.Config) (l lines, err error) {
	if err := hw.Init(); err != nil {
		return lines{}, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, l.halt())
		}
	}()
	p := cfg.Pins
	// chip selects idle high, mux starts on the external generator
	if l.adcCS, err = hw.OpenOutput(p.ADCChipSelect, true); err != nil {
		return l, err
	}
	if l.onCS, err = hw.OpenOutput(p.OnTimeChipSelect, true); err != nil {
		return l, err
	}
	if l.ampCS, err = hw.OpenOutput(p.AmplitudeChipSelect, true); err != nil {
		return l, err
	}
	if l.mux, err = hw.OpenOutput(p.Mux, true); err != nil {
		return l, err
	}
	if l.up, err = hw.OpenInput(p.Up); err != nil {
		return l, err
	}
	if l.down, err = hw.OpenInput(p.Down); err != nil {
		return l, err
	}
	pwm, err := hw.OpenPWM(p.Pulse, cfg.Pulse.FrequencyHz, cfg.Pulse.DutyCycle)
	if err != nil {
		return l, err
	}
	l.timer = pwm
	l.port = bus.NewSPIPort(cfg.SPI.Port)
	return l, nil
}

// simulatedLines builds an in-memory board: an MCP3008 answering with the
// configured codes, two digipots and the switch fixed to cfg.Simulation.Switch.
func simulatedLines(cfg config.Config) (lines, error) {
	up, down, err := switchLevels(cfg.Simulation.Switch)
	if err != nil {
		return lines{}, err
	}
	p := cfg.Pins
	adcCS := hw.NewSimLine(p.ADCChipSelect, true)
	onCS := hw.NewSimLine(p.OnTimeChipSelect, true)
	ampCS := hw.NewSimLine(p.AmplitudeChipSelect, true)

	port := bus.NewSimPort()
	port.Wire(adcCS, sensor.NewFakeADC(cfg.Simulation.Raw, cfg.Simulation.Jitter))
	port.Wire(onCS, &pot.Sim{})
	port.Wire(ampCS, &pot.Sim{})

	log.Printf("simulation: raw=%v switch=%s", cfg.Simulation.Raw, cfg.Simulation.Switch)
	return lines{
		adcCS: adcCS,
		onCS:  onCS,
		ampCS: ampCS,
		mux:   hw.NewSimLine(p.Mux, true),
		up:    hw.NewSimLine(p.Up, up),
		down:  hw.NewSimLine(p.Down, down),
		timer: hw.NewSimTimer(cfg.Pulse.FrequencyHz, cfg.Pulse.DutyCycle),
		port:  port,
	}, nil
}

func switchLevels(s string) (up, down bool, err error) {
	if s == "undefined" {
		return true, true, nil
	}
	m, err := mode.Parse(s)
	if err != nil {
		return false, false, fmt.Errorf("simulation switch: %w", err)
	}
	switch m {
	case mode.FunctionGenerator:
		return true, false, nil
	case mode.Standby:
		return false, true, nil
	}
	return false, false, nil
}
