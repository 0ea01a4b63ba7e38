package output

import (
	"context"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ericogr/pulsestim/pkg/control"
)

// Entry is an output forwarded at its own interval.
type Entry struct {
	Type       string
	Output     Output
	IntervalMs int
}

// Dispatcher is the control.Display in front of the outputs. Publish only
// stores the latest snapshot; each output picks it up on its own interval and
// skips snapshots it has already seen. Nothing is queued.
type Dispatcher struct {
	entries []Entry

	mu     sync.Mutex
	latest control.Snapshot
	seq    uint64
}

var _ control.Display = (*Dispatcher)(nil)

const DefaultIntervalMs = 1000

func NewDispatcher(entries []Entry) *Dispatcher {
	return &Dispatcher{entries: entries}
}

func (d *Dispatcher) Publish(s control.Snapshot) error {
	d.mu.Lock()
	d.latest = s
	d.seq++
	d.mu.Unlock()
	return nil
}

// Latest returns the stored snapshot and its sequence number (0 when none).
func (d *Dispatcher) Latest() (control.Snapshot, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest, d.seq
}

// Run forwards snapshots until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range d.entries {
		e := e
		g.Go(func() error {
			d.forward(ctx, e)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) forward(ctx context.Context, e Entry) {
	interval := e.IntervalMs
	if interval <= 0 {
		interval = DefaultIntervalMs
	}
	t := time.NewTicker(time.Duration(interval) * time.Millisecond)
	defer t.Stop()
	var sent uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s, seq := d.Latest()
			if seq == 0 || seq == sent {
				continue
			}
			if err := e.Output.Publish(s); err != nil {
				log.Printf("output %s publish error: %v", e.Type, err)
				continue
			}
			sent = seq
		}
	}
}

func (d *Dispatcher) Close() error {
	var err error
	for _, e := range d.entries {
		err = multierr.Append(err, e.Output.Close())
	}
	return err
}
