package camera

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeBackend serves devices whose reads follow a per-index pattern.
// Reads past the end of a pattern repeat its last entry; indices without a
// pattern cannot be opened.
type fakeBackend struct {
	name string

	mu       sync.Mutex
	patterns map[int][]bool
	opens    map[int]int
	live     map[int]int
}

func newFakeBackend(name string, patterns map[int][]bool) *fakeBackend {
	return &fakeBackend{
		name:     name,
		patterns: patterns,
		opens:    make(map[int]int),
		live:     make(map[int]int),
	}
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Open(_ context.Context, index int, want Params) (Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pattern, ok := b.patterns[index]
	if !ok {
		return nil, errors.New("no such device")
	}
	b.opens[index]++
	b.live[index]++
	return &fakeDevice{backend: b, index: index, pattern: pattern, params: normalizeParams(want)}, nil
}

func (b *fakeBackend) setPattern(index int, pattern []bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns[index] = pattern
}

func (b *fakeBackend) openCount(index int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[index]
}

func (b *fakeBackend) liveCount(index int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[index]
}

type fakeDevice struct {
	backend *fakeBackend
	index   int
	pattern []bool
	params  Params

	mu     sync.Mutex
	reads  int
	closed bool
}

var errFakeRead = errors.New("fake read failure")

func (d *fakeDevice) Read() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Frame{}, errors.New("read after close")
	}
	ok := true
	if len(d.pattern) > 0 {
		i := d.reads
		if i >= len(d.pattern) {
			i = len(d.pattern) - 1
		}
		ok = d.pattern[i]
	}
	d.reads++
	if !ok {
		return Frame{}, errFakeRead
	}
	data := make([]byte, 2*2*3)
	data[0] = byte(d.index)
	return Frame{Width: 2, Height: 2, Channels: 3, Data: data, Timestamp: time.Now()}, nil
}

func (d *fakeDevice) Info() (int, int, float64) {
	return d.params.Width, d.params.Height, d.params.FPS
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.backend.mu.Lock()
		d.backend.live[d.index]--
		d.backend.mu.Unlock()
	}
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestManager(backends ...Backend) *Manager {
	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name())
	}
	return NewManager(Options{
		MaxIndex:               4,
		DiscoveryBackends:      names,
		OpenBackends:           names,
		Params:                 Params{Width: 2, Height: 2, FPS: 10},
		ReinitInterval:         2 * time.Second,
		MaxReinitFailures:      2,
		MaxConsecutiveFailures: 2,
		Registry:               NewRegistry(backends...),
		sleep:                  noSleep,
	})
}
