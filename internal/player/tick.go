package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/asciireel/internal/reel"
)

// Degraded-mode frame size when no manifest supplied one.
const (
	fallbackWidth  = reel.DefaultWidth
	fallbackHeight = reel.DefaultHeight
)

// shouldPrefetch reports whether the presentation clock is within margin
// frames of the end of the buffer. The narrower margins a caller might test
// (10, then 1 frame) are implied by the widest one.
func shouldPrefetch(target, buffered, margin int) bool {
	return target >= buffered-margin
}

// targetIndex maps elapsed wall-clock time onto a frame index.
func targetIndex(elapsed time.Duration, fps int) int {
	if elapsed <= 0 || fps <= 0 {
		return 0
	}
	return int(elapsed.Nanoseconds() * int64(fps) / int64(time.Second))
}

func (p *Player) requestTickLocked(s *session) {
	gen := s.gen
	s.frameID = p.requester.RequestFrame(func(now time.Time) {
		p.tick(gen, now)
	})
	s.framePending = true
}

// tick runs once per display refresh. It never blocks on I/O.
func (p *Player) tick(gen uint64, now time.Time) {
	p.presentMu.Lock()
	p.mu.Lock()
	s := p.s
	if s.gen != gen || s.state != StatePlaying {
		p.mu.Unlock()
		p.presentMu.Unlock()
		return
	}
	s.framePending = false

	m := s.manifest
	target := targetIndex(now.Sub(s.start), m.FPS)
	buffered := len(s.frames)

	if shouldPrefetch(target, buffered, p.margin) {
		p.prefetchLocked(s)
	}

	display := max(0, min(target, buffered-1))
	// Time only moves forward, but a clock step backwards must not rewind the picture.
	display = max(display, s.displayed)

	var (
		presentIdx = -1
		completed  bool
	)
	interval := time.Second / time.Duration(m.FPS)
	if buffered > 0 && display != s.displayed && now.Sub(s.lastPresent) >= interval {
		presentIdx = display
	}

	if s.nextChunk >= len(m.Chunks) && !s.inFlight && display >= buffered-1 {
		if buffered > 0 && s.displayed != buffered-1 {
			presentIdx = buffered - 1
		}
		s.state = StateCompleted
		completed = true
	}

	var frame reel.Frame
	if presentIdx >= 0 {
		frame = s.frames[presentIdx]
		s.displayed = presentIdx
		s.lastPresent = now
	}
	if !completed {
		p.requestTickLocked(s)
	}
	p.mu.Unlock()

	if frame != nil {
		p.presenter.Present(presentIdx, frame)
	}
	p.presentMu.Unlock()

	if completed {
		p.logger.Info("playback completed", slog.Int("frames", buffered))
		p.notify()
	}
}

// prefetchLocked launches a fetch of the next chunk when one is due and none
// is in flight. Each chunk index is requested at most once per session.
func (p *Player) prefetchLocked(s *session) {
	m := s.manifest
	if m == nil || s.inFlight || s.nextChunk >= len(m.Chunks) {
		return
	}
	idx := s.nextChunk
	if _, done := s.requested[idx]; done {
		return
	}

	s.requested[idx] = struct{}{}
	s.inFlight = true
	s.loading = loadingText(idx, len(m.Chunks))
	go p.fetchChunk(s, m, idx)
}

// fetchChunk runs in its own goroutine and appends the chunk on arrival.
func (p *Player) fetchChunk(s *session, m *reel.Manifest, idx int) {
	chunk, err := p.loadChunk(s.ctx, m, idx)

	p.mu.Lock()
	if p.s != s {
		// The session was reset while the fetch was in flight.
		p.mu.Unlock()
		return
	}
	s.inFlight = false
	s.loading = ""
	if err != nil {
		s.lastErr = err
		p.mu.Unlock()
		p.logger.Warn("chunk unavailable", slog.Int("chunk", idx), slog.String("error", err.Error()))
		p.notify()
		return
	}
	s.frames = append(s.frames, chunk.Frames...)
	s.nextChunk = idx + 1
	buffered := len(s.frames)
	p.mu.Unlock()

	p.logger.Debug("chunk appended",
		slog.Int("chunk", idx),
		slog.Int("frames", len(chunk.Frames)),
		slog.Int("buffered", buffered),
	)
	p.notify()
}

// loadChunk fetches and validates chunk idx, applying the retry policy.
func (p *Player) loadChunk(ctx context.Context, m *reel.Manifest, idx int) (*reel.Chunk, error) {
	ref := m.Chunks[idx]
	attempts := max(1, p.retry.MaxAttempts)
	backoff := p.retry.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			p.logger.Debug("retrying chunk",
				slog.Int("chunk", idx),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, &ChunkUnavailableError{Index: idx, File: ref.File, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		chunk, err := p.fetcher.FetchChunk(ctx, ref.File)
		if err == nil {
			err = chunk.Validate(m.Width, m.Height, ref.Count)
		}
		if err == nil {
			return chunk, nil
		}
		lastErr = err
	}
	return nil, &ChunkUnavailableError{Index: idx, File: ref.File, Err: lastErr}
}

// degrade switches a starting session to synthetic playback. m may be nil
// when no manifest could be read.
func (p *Player) degrade(gen uint64, m *reel.Manifest, cause error) {
	p.mu.Lock()
	s := p.s
	if s.gen != gen || s.state != StateStarting {
		p.mu.Unlock()
		return
	}

	s.state = StateDegraded
	s.lastErr = cause
	s.synthFPS = p.fallbackFPS
	s.synthWidth, s.synthHeight = fallbackWidth, fallbackHeight
	if m != nil {
		s.manifest = m
		if m.FPS > 0 {
			s.synthFPS = m.FPS
		}
		if m.Width > 0 && m.Height > 0 {
			s.synthWidth, s.synthHeight = m.Width, m.Height
		}
	}
	fps := s.synthFPS
	s.stopDegraded = p.timer.Every(time.Second/time.Duration(fps), func() { p.degradedTick(gen) })
	p.mu.Unlock()

	p.logger.Info("synthetic playback started",
		slog.Int("fps", fps),
		slog.String("reason", cause.Error()),
	)
	p.notify()
}

// degradedTick presents the next synthetic frame.
func (p *Player) degradedTick(gen uint64) {
	p.presentMu.Lock()
	defer p.presentMu.Unlock()

	p.mu.Lock()
	s := p.s
	if s.gen != gen || s.state != StateDegraded {
		p.mu.Unlock()
		return
	}
	n := s.synthetic
	s.synthetic++
	s.displayed = n
	fps, w, h := s.synthFPS, s.synthWidth, s.synthHeight
	p.mu.Unlock()

	p.presenter.Present(n, SyntheticFrame(n, fps, w, h, p.palette))
}
