package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// FakeADC simulates the front panel knobs. It can be read directly as a
// ChannelReader or wired behind a simulated bus as an MCP3008 responder.
type FakeADC struct {
	mu     sync.Mutex
	values map[int]int
	errs   map[int]error
	jitter int
	rnd    *rand.Rand
}

var _ ChannelReader = (*FakeADC)(nil)

// NewFakeADC returns a fake with the given per-channel raw codes. Each read
// adds uniform noise of +/- jitter codes.
func NewFakeADC(values map[int]int, jitter int) *FakeADC {
	f := &FakeADC{
		values: make(map[int]int),
		errs:   make(map[int]error),
		jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for ch, v := range values {
		f.values[ch] = clampRaw(v)
	}
	return f
}

func (f *FakeADC) Set(channel, raw int) {
	f.mu.Lock()
	f.values[channel] = clampRaw(raw)
	f.mu.Unlock()
}

// Fail makes reads of channel return err; nil clears it.
func (f *FakeADC) Fail(channel int, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.errs, channel)
	} else {
		f.errs[channel] = err
	}
	f.mu.Unlock()
}

func (f *FakeADC) sample(channel int) int {
	raw := f.values[channel]
	if f.jitter > 0 {
		raw += f.rnd.Intn(2*f.jitter+1) - f.jitter
	}
	return clampRaw(raw)
}

func (f *FakeADC) ReadChannel(ctx context.Context, channel int) (int, error) {
	if _, err := requestFrame(channel); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[channel]; err != nil {
		return 0, err
	}
	return f.sample(channel), nil
}

// Respond answers an MCP3008 request frame.
func (f *FakeADC) Respond(w []byte) []byte {
	if len(w) != frameLen || w[0] != startBit || w[1]>>4 < singleEnded {
		return make([]byte, len(w))
	}
	channel := int(w[1]>>4) - singleEnded
	f.mu.Lock()
	defer f.mu.Unlock()
	return responseFrame(f.sample(channel))
}
