// Package control runs the sampling and actuation loop: read the three front
// panel knobs, set the pulse timer and both potentiometers, decode the mode
// switch and publish a Snapshot to the display.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/ericogr/pulsestim/pkg/hw"
	"github.com/ericogr/pulsestim/pkg/mode"
	"github.com/ericogr/pulsestim/pkg/pot"
	"github.com/ericogr/pulsestim/pkg/sensor"
	"github.com/ericogr/pulsestim/pkg/units"
)

// ErrNoBaseline is returned by Tick when a channel failed before any
// Snapshot existed to carry its value from.
var ErrNoBaseline = errors.New("no previous snapshot to fall back on")

var errUndefinedSwitch = errors.New("up and down both active, holding standby")

// Hardware is everything the loop talks to.
type Hardware struct {
	ADC       sensor.ChannelReader
	OnTime    pot.Writer
	Amplitude pot.Writer
	Timer     hw.PulseTimer
	Mux       hw.Line
	Switch    mode.SwitchReader
}

// Channels assigns ADC inputs to the front panel knobs.
type Channels struct {
	Delay     int
	OnTime    int
	Amplitude int
}

var DefaultChannels = Channels{Delay: 0, OnTime: 1, Amplitude: 2}

type Options struct {
	Period   time.Duration
	Channels Channels
	// LogEvery limits repeated fault logging to one line per LogEvery
	// occurrences.
	LogEvery int
}

const (
	DefaultPeriod   = time.Millisecond
	DefaultLogEvery = 1000
)

type Loop struct {
	hw      Hardware
	display Display
	opts    Options
	now     func() time.Time

	tick   uint64
	faults map[string]int

	mu   sync.RWMutex
	last Snapshot
	have bool
}

func New(h Hardware, display Display, opts Options) *Loop {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = DefaultLogEvery
	}
	return &Loop{
		hw:      h,
		display: display,
		opts:    opts,
		now:     time.Now,
		faults:  make(map[string]int),
	}
}

// Latest returns the most recent Snapshot and whether one exists.
func (l *Loop) Latest() (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last, l.have
}

// Run ticks every Period until ctx is done, then puts the outputs in the
// Standby state. A tick in progress is never interrupted.
func (l *Loop) Run(ctx context.Context) error {
	t := time.NewTicker(l.opts.Period)
	defer t.Stop()
	defer l.park()

	tickCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := l.Tick(tickCtx); err != nil {
				l.fault("tick", err)
			}
		}
	}
}

func (l *Loop) park() {
	if err := mode.Apply(mode.SafeState(), l.hw.Timer, l.hw.Mux); err != nil {
		log.Printf("control: standby on stop: %v", err)
	}
}

// Tick runs one sample/actuate/publish cycle. All channels are sampled before
// any output is touched, so an aborted tick leaves the hardware unchanged.
func (l *Loop) Tick(ctx context.Context) (Snapshot, error) {
	prev, have := l.Latest()
	ch := l.opts.Channels

	delayRaw, delayErr := l.hw.ADC.ReadChannel(ctx, ch.Delay)
	onRaw, onErr := l.hw.ADC.ReadChannel(ctx, ch.OnTime)
	ampRaw, ampErr := l.hw.ADC.ReadChannel(ctx, ch.Amplitude)
	if !have {
		if err := multierr.Combine(delayErr, onErr, ampErr); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrNoBaseline, err)
		}
	}

	l.tick++
	s := Snapshot{Tick: l.tick, Timestamp: l.now()}

	if delayErr != nil {
		l.fault("delay", delayErr)
		l.carryDelay(&s, prev)
	} else {
		l.recovered("delay")
		hz := units.PulseFrequency(delayRaw)
		s.Raw.Delay, s.PulseHz = delayRaw, hz
		s.Delay = units.Format(units.DelaySeconds(hz))
		if err := l.hw.Timer.SetFrequency(hz); err != nil {
			l.fault("pulse timer", err)
			if have {
				l.carryDelay(&s, prev)
			}
			s.Stale.Delay = true
		}
	}

	if onErr != nil {
		l.fault("on-time", onErr)
		l.carryOnTime(&s, prev)
	} else {
		l.recovered("on-time")
		step := units.OnTimeStep(onRaw)
		s.Raw.OnTime, s.OnTimeStep = onRaw, step
		s.OnTime = units.Format(units.OnTimeMillis(step))
		if err := l.hw.OnTime.WriteStep(ctx, step); err != nil {
			l.fault("on-time pot", err)
			if have {
				l.carryOnTime(&s, prev)
			}
			s.Stale.OnTime = true
		}
	}

	if ampErr != nil {
		l.fault("amplitude", ampErr)
		l.carryAmplitude(&s, prev)
	} else {
		l.recovered("amplitude")
		step := units.AmplitudeStep(ampRaw)
		s.Raw.Amplitude, s.AmplitudeStep = ampRaw, step
		s.Amplitude = units.Format(units.AmplitudeVolts(step))
		if err := l.hw.Amplitude.WriteStep(ctx, step); err != nil {
			l.fault("amplitude pot", err)
			if have {
				l.carryAmplitude(&s, prev)
			}
			s.Stale.Amplitude = true
		}
	}

	d := l.decide()
	if err := mode.Apply(d, l.hw.Timer, l.hw.Mux); err != nil {
		l.fault("mode", err)
	}
	s.Mode, s.Flagged, s.Undefined = d.Mode, d.Flagged, d.Undefined

	l.mu.Lock()
	l.last, l.have = s, true
	l.mu.Unlock()

	if l.display != nil {
		if err := l.display.Publish(s); err != nil {
			l.fault("display", err)
		}
	}
	return s, nil
}

func (l *Loop) decide() mode.Decision {
	up, down, err := l.hw.Switch.ReadSwitch()
	if err != nil {
		l.fault("switch", err)
		return mode.SafeState()
	}
	l.recovered("switch")
	d := mode.Decode(up, down)
	if d.Undefined {
		l.fault("switch state", errUndefinedSwitch)
	} else {
		l.recovered("switch state")
	}
	return d
}

func (l *Loop) carryDelay(s *Snapshot, prev Snapshot) {
	s.Raw.Delay, s.PulseHz, s.Delay = prev.Raw.Delay, prev.PulseHz, prev.Delay
	s.Stale.Delay = true
}

func (l *Loop) carryOnTime(s *Snapshot, prev Snapshot) {
	s.Raw.OnTime, s.OnTimeStep, s.OnTime = prev.Raw.OnTime, prev.OnTimeStep, prev.OnTime
	s.Stale.OnTime = true
}

func (l *Loop) carryAmplitude(s *Snapshot, prev Snapshot) {
	s.Raw.Amplitude, s.AmplitudeStep, s.Amplitude = prev.Raw.Amplitude, prev.AmplitudeStep, prev.Amplitude
	s.Stale.Amplitude = true
}

func (l *Loop) fault(what string, err error) {
	l.faults[what]++
	n := l.faults[what]
	if n == 1 || n%l.opts.LogEvery == 0 {
		log.Printf("control: %s: %v (count=%d)", what, err, n)
	}
}

func (l *Loop) recovered(what string) {
	if n := l.faults[what]; n > 0 {
		log.Printf("control: %s recovered after %d faults", what, n)
		delete(l.faults, what)
	}
}
