package hw

import (
	"sync"
)

// SimLine is an in-memory Line. Edges counts level changes.
type SimLine struct {
	mu    sync.Mutex
	name  string
	level bool
	edges int
	err   error
}

func NewSimLine(name string, level bool) *SimLine {
	return &SimLine{name: name, level: level}
}

func (l *SimLine) Name() string { return l.name }

func (l *SimLine) Out(high bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.level != high {
		l.edges++
	}
	l.level = high
	return nil
}

func (l *SimLine) Read() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	return l.level, nil
}

// Set changes the level as an external driver would (e.g. a switch).
func (l *SimLine) Set(high bool) {
	l.mu.Lock()
	l.level = high
	l.mu.Unlock()
}

// Fail makes every following Out/Read return err until cleared with nil.
func (l *SimLine) Fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *SimLine) Level() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *SimLine) Edges() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.edges
}

// SimTimer records the last frequency and duty cycle it was given.
type SimTimer struct {
	mu      sync.Mutex
	hz      float64
	duty    float64
	updates int
	halted  bool
}

func NewSimTimer(hz, percent float64) *SimTimer {
	return &SimTimer{hz: clampFrequency(hz), duty: clampPercent(percent)}
}

func (t *SimTimer) SetFrequency(hz float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hz = clampFrequency(hz)
	t.updates++
	return nil
}

func (t *SimTimer) SetDutyCycle(percent float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duty = clampPercent(percent)
	t.updates++
	return nil
}

func (t *SimTimer) Halt() error {
	t.mu.Lock()
	t.halted = true
	t.mu.Unlock()
	return nil
}

func (t *SimTimer) Frequency() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hz
}

func (t *SimTimer) DutyCycle() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duty
}

func (t *SimTimer) Updates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updates
}

func (t *SimTimer) Halted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted
}
