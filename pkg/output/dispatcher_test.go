package output

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/pulsestim/pkg/control"
)

type memOutput struct {
	mu     sync.Mutex
	got    []control.Snapshot
	closed bool
	err    error
}

func (m *memOutput) Publish(s control.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, s)
	return nil
}

func (m *memOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.err
}

func (m *memOutput) snapshots() []control.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]control.Snapshot(nil), m.got...)
}

func TestDispatcherKeepsOnlyLatest(t *testing.T) {
	d := NewDispatcher(nil)
	_, seq := d.Latest()
	assert.Zero(t, seq)

	for i := 1; i <= 5; i++ {
		require.NoError(t, d.Publish(control.Snapshot{Tick: uint64(i)}))
	}
	s, seq := d.Latest()
	assert.Equal(t, uint64(5), s.Tick)
	assert.Equal(t, uint64(5), seq)
}

func TestDispatcherForwardsOncePerSnapshot(t *testing.T) {
	out := &memOutput{}
	d := NewDispatcher([]Entry{{Type: "mem", Output: out, IntervalMs: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, d.Publish(control.Snapshot{Tick: 1, Delay: "1.00"}))
	require.Eventually(t, func() bool { return len(out.snapshots()) == 1 }, time.Second, time.Millisecond)

	// no new snapshot, nothing is re-sent
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, out.snapshots(), 1)

	require.NoError(t, d.Publish(control.Snapshot{Tick: 2}))
	require.Eventually(t, func() bool { return len(out.snapshots()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), out.snapshots()[1].Tick)

	cancel()
	require.NoError(t, <-done)
}

func TestDispatcherClose(t *testing.T) {
	boom := errors.New("boom")
	a, b := &memOutput{}, &memOutput{err: boom}
	d := NewDispatcher([]Entry{{Type: "a", Output: a}, {Type: "b", Output: b}})
	assert.ErrorIs(t, d.Close(), boom)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
