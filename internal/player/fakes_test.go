package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/asciireel/internal/assets"
	"github.com/jmylchreest/asciireel/internal/reel"
)

// manualRequester hands out frame callbacks and fires them on demand.
type manualRequester struct {
	mu        sync.Mutex
	nextID    FrameID
	pending   map[FrameID]func(time.Time)
	requests  int
	cancelled []FrameID
}

func newManualRequester() *manualRequester {
	return &manualRequester{pending: make(map[FrameID]func(time.Time))}
}

func (r *manualRequester) RequestFrame(fn func(time.Time)) FrameID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.pending[r.nextID] = fn
	r.requests++
	return r.nextID
}

func (r *manualRequester) CancelFrame(id FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
	r.cancelled = append(r.cancelled, id)
}

// fire runs every pending callback once and reports how many ran.
func (r *manualRequester) fire(now time.Time) int {
	r.mu.Lock()
	fns := make([]func(time.Time), 0, len(r.pending))
	for id, fn := range r.pending {
		fns = append(fns, fn)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
	return len(fns)
}

func (r *manualRequester) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// manualTimer records the degraded-mode interval and fires it on demand.
type manualTimer struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *manualTimer) Every(interval time.Duration, fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = interval
	t.fn = fn
	t.stopped = false
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.stopped = true
	}
}

func (t *manualTimer) fire() {
	t.mu.Lock()
	fn, stopped := t.fn, t.stopped
	t.mu.Unlock()
	if fn != nil && !stopped {
		fn()
	}
}

func (t *manualTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// memFetcher serves a reel from memory. Files listed in gates block until
// their gate is closed; fail[file] counts attempts that should error.
type memFetcher struct {
	mu          sync.Mutex
	manifest    *reel.Manifest
	manifestErr error
	chunks      map[string]*reel.Chunk
	gates       map[string]chan struct{}
	fail        map[string]int
	calls       map[string]int
}

func newMemFetcher(m *reel.Manifest, chunks map[string]*reel.Chunk) *memFetcher {
	return &memFetcher{
		manifest: m,
		chunks:   chunks,
		gates:    make(map[string]chan struct{}),
		fail:     make(map[string]int),
		calls:    make(map[string]int),
	}
}

var _ assets.Fetcher = (*memFetcher)(nil)

func (f *memFetcher) FetchManifest(_ context.Context) (*reel.Manifest, error) {
	if f.manifestErr != nil {
		return nil, f.manifestErr
	}
	cp := *f.manifest
	return &cp, nil
}

func (f *memFetcher) FetchChunk(ctx context.Context, file string) (*reel.Chunk, error) {
	f.mu.Lock()
	f.calls[file]++
	gate := f.gates[file]
	failing := f.fail[file] > 0
	if failing {
		f.fail[file]--
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, errors.New("connection reset")
	}
	c, ok := f.chunks[file]
	if !ok {
		return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, file)
	}
	return c, nil
}

func (f *memFetcher) gate(file string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[file] = ch
	return ch
}

func (f *memFetcher) callCount(file string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[file]
}

type presented struct {
	index int
	frame reel.Frame
}

type recordingPresenter struct {
	mu     sync.Mutex
	frames []presented
}

func (p *recordingPresenter) Present(index int, frame reel.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, presented{index: index, frame: frame})
}

func (p *recordingPresenter) all() []presented {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presented(nil), p.frames...)
}

func (p *recordingPresenter) indices() []int {
	var out []int
	for _, f := range p.all() {
		out = append(out, f.index)
	}
	return out
}

// reelOf builds a 1x1 reel whose frame k holds the character 'a'+k.
func reelOf(fps int, counts ...int) (*reel.Manifest, map[string]*reel.Chunk) {
	m := &reel.Manifest{FPS: fps, Width: 1, Height: 1}
	chunks := make(map[string]*reel.Chunk)
	k := 0
	for i, n := range counts {
		file := fmt.Sprintf("c%d.json", i+1)
		c := &reel.Chunk{Frames: []reel.Frame{}}
		for j := 0; j < n; j++ {
			c.Frames = append(c.Frames, reel.Frame{string(rune('a' + k))})
			k++
		}
		chunks[file] = c
		m.Chunks = append(m.Chunks, reel.ChunkRef{File: file, Count: n})
		m.TotalFrames += n
	}
	return m, chunks
}

type harness struct {
	fetcher   *memFetcher
	presenter *recordingPresenter
	requester *manualRequester
	timer     *manualTimer
	t0        time.Time
	player    *Player
}

func newHarness(fetcher *memFetcher, opts ...Option) *harness {
	h := &harness{
		fetcher:   fetcher,
		presenter: &recordingPresenter{},
		requester: newManualRequester(),
		timer:     &manualTimer{},
		t0:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	base := []Option{
		WithFrameRequester(h.requester),
		WithIntervalTimer(h.timer),
		WithClock(fixedClock{t: h.t0}),
	}
	h.player = New(fetcher, h.presenter, append(base, opts...)...)
	return h
}

func (h *harness) at(ms float64) time.Time {
	return h.t0.Add(time.Duration(ms * float64(time.Millisecond)))
}
