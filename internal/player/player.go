// Package player implements the streaming playback scheduler: it pulls reel
// chunks progressively, keeps an append-only frame buffer and presents the
// frame that matches wall-clock time on every display refresh.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/asciireel/internal/assets"
	"github.com/jmylchreest/asciireel/internal/observability"
	"github.com/jmylchreest/asciireel/internal/reel"
)

// DefaultPrefetchMargin is how many frames before the end of the buffer a
// prefetch of the next chunk is launched.
const DefaultPrefetchMargin = 30

// Presenter receives the frame to show.
type Presenter interface {
	Present(index int, frame reel.Frame)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(index int, frame reel.Frame)

// Present implements Presenter.
func (f PresenterFunc) Present(index int, frame reel.Frame) { f(index, frame) }

// RetryPolicy governs how a failing chunk fetch is retried before the
// failure is reported. MaxAttempts counts the first try; values below one
// mean a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Option configures a Player.
type Option func(*Player)

// WithFrameRequester sets the display refresh source.
func WithFrameRequester(r FrameRequester) Option {
	return func(p *Player) { p.requester = r }
}

// WithIntervalTimer sets the timer driving degraded playback.
func WithIntervalTimer(t IntervalTimer) Option {
	return func(p *Player) { p.timer = t }
}

// WithClock sets the clock used to stamp the session start.
func WithClock(c Clock) Option {
	return func(p *Player) { p.clock = c }
}

// WithRetryPolicy sets the chunk retry policy.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(p *Player) { p.retry = rp }
}

// WithPrefetchMargin sets the near-end-of-buffer threshold in frames.
func WithPrefetchMargin(frames int) Option {
	return func(p *Player) {
		if frames > 0 {
			p.margin = frames
		}
	}
}

// WithEagerPrefetch requests the second chunk as soon as the first arrives
// instead of waiting for the buffer threshold.
func WithEagerPrefetch(enabled bool) Option {
	return func(p *Player) { p.eager = enabled }
}

// WithFallbackFPS sets the synthetic frame rate used when no manifest is available.
func WithFallbackFPS(fps int) Option {
	return func(p *Player) {
		if fps > 0 {
			p.fallbackFPS = fps
		}
	}
}

// WithPalette sets the palette used for synthetic frames.
func WithPalette(chars string) Option {
	return func(p *Player) { p.palette = reel.NewPalette(chars) }
}

// WithStatusListener registers fn to receive a Status after every state
// change and chunk arrival. fn runs outside the player's lock.
func WithStatusListener(fn func(Status)) Option {
	return func(p *Player) { p.listener = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) { p.logger = observability.WithComponent(logger, "player") }
}

// Player schedules playback of one reel. It owns at most one session at a time.
type Player struct {
	fetcher     assets.Fetcher
	presenter   Presenter
	requester   FrameRequester
	timer       IntervalTimer
	clock       Clock
	retry       RetryPolicy
	margin      int
	eager       bool
	fallbackFPS int
	palette     reel.Palette
	listener    func(Status)
	logger      *slog.Logger

	// presentMu serialises presentation so frames reach the presenter in order.
	presentMu sync.Mutex

	mu  sync.Mutex
	gen uint64
	s   *session
}

// session is the state of one playback attempt.
type session struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	state    State
	manifest *reel.Manifest
	frames   []reel.Frame
	start    time.Time

	nextChunk int              // next chunk index in manifest order
	requested map[int]struct{} // chunk indices fetched or in flight
	inFlight  bool
	loading   string
	lastErr   error

	displayed   int
	lastPresent time.Time

	frameID      FrameID
	framePending bool

	stopDegraded func()
	synthetic    int
	synthFPS     int
	synthWidth   int
	synthHeight  int
}

func newSession(gen uint64) *session {
	return &session{
		gen:       gen,
		state:     StateIdle,
		requested: make(map[int]struct{}),
		displayed: -1,
	}
}

// New creates a player reading from fetcher and presenting to presenter.
func New(fetcher assets.Fetcher, presenter Presenter, opts ...Option) *Player {
	p := &Player{
		fetcher:     fetcher,
		presenter:   presenter,
		requester:   NewRefreshLoop(60),
		timer:       TickerTimer{},
		clock:       systemClock{},
		retry:       RetryPolicy{MaxAttempts: 1},
		margin:      DefaultPrefetchMargin,
		fallbackFPS: reel.DefaultFPS,
		palette:     reel.NewPalette(reel.DefaultPalette),
		logger:      observability.WithComponent(slog.Default(), "player"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.presenter == nil {
		p.presenter = PresenterFunc(func(int, reel.Frame) {})
	}
	p.s = newSession(p.gen)
	return p
}

// Start begins a playback session. It fetches the manifest and the first
// chunk before starting the presentation clock. Manifest problems and a
// missing first chunk put the session into degraded mode rather than
// failing. ErrAlreadyPlaying is returned while a session is active.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.s.state.Active() {
		p.mu.Unlock()
		return ErrAlreadyPlaying
	}
	s := p.resetLocked(ctx)
	s.state = StateStarting
	gen := s.gen
	p.mu.Unlock()
	p.notify()

	m, err := p.fetcher.FetchManifest(s.ctx)
	if err != nil {
		p.logger.Warn("manifest unavailable, using synthetic playback", slog.String("error", err.Error()))
		p.degrade(gen, nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err))
		return nil
	}
	if err := m.Validate(); err != nil {
		p.logger.Warn("manifest rejected, using synthetic playback", slog.String("error", err.Error()))
		p.degrade(gen, nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err))
		return nil
	}
	if len(m.Chunks) == 0 {
		p.logger.Info("manifest has no chunks, using synthetic playback")
		p.degrade(gen, m, ErrEmptyManifest)
		return nil
	}

	p.mu.Lock()
	if !p.liveLocked(gen, StateStarting) {
		p.mu.Unlock()
		return nil
	}
	s.manifest = m
	s.requested[0] = struct{}{}
	s.inFlight = true
	s.loading = loadingText(0, len(m.Chunks))
	p.mu.Unlock()

	chunk, err := p.loadChunk(s.ctx, m, 0)

	p.presentMu.Lock()
	p.mu.Lock()
	if !p.liveLocked(gen, StateStarting) {
		p.mu.Unlock()
		p.presentMu.Unlock()
		return nil
	}
	s.inFlight = false
	s.loading = ""
	if err != nil {
		s.lastErr = err
		p.mu.Unlock()
		p.presentMu.Unlock()
		p.logger.Warn("first chunk unavailable, using synthetic playback", slog.String("error", err.Error()))
		p.degrade(gen, m, err)
		return nil
	}

	s.frames = append(s.frames, chunk.Frames...)
	s.nextChunk = 1
	s.state = StatePlaying
	s.start = p.clock.Now()

	// The first frame is on screen as soon as the clock starts.
	var first reel.Frame
	if len(s.frames) > 0 {
		first = s.frames[0]
		s.displayed = 0
		s.lastPresent = s.start
	}
	p.requestTickLocked(s)
	if p.eager {
		p.prefetchLocked(s)
	}
	p.mu.Unlock()

	if first != nil {
		p.presenter.Present(0, first)
	}
	p.presentMu.Unlock()

	p.logger.Info("playback started",
		slog.Int("fps", m.FPS),
		slog.Int("total_frames", m.TotalFrames),
		slog.Int("chunks", len(m.Chunks)),
	)
	p.notify()
	return nil
}

// Stop ends the active session, cancelling the pending tick and the degraded
// timer. An in-flight chunk fetch may still append its frames. Stop is idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.s.state.Active() {
		p.mu.Unlock()
		return
	}
	p.s.state = StateStopped
	p.cancelTimersLocked(p.s)
	p.mu.Unlock()

	p.logger.Debug("playback stopped")
	p.notify()
}

// Reset stops playback and discards the buffer and all fetch progress.
func (p *Player) Reset() {
	p.Stop()

	p.mu.Lock()
	p.resetLocked(nil)
	p.mu.Unlock()
	p.notify()
}

// IsPlaying reports whether a session is active, including degraded playback.
func (p *Player) IsPlaying() bool {
	return p.State().Active()
}

// State returns the current session state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.s.state
}

// Status returns a snapshot of the current session.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Player) statusLocked() Status {
	s := p.s
	st := Status{
		State:     s.state,
		Current:   s.displayed,
		Buffered:  len(s.frames),
		Loading:   s.loading,
		LastError: s.lastErr,
	}
	if s.manifest != nil {
		st.FPS = s.manifest.FPS
		st.Width, st.Height = s.manifest.Width, s.manifest.Height
		st.TotalFrames = s.manifest.TotalFrames
		st.Chunks = len(s.manifest.Chunks)
		st.ChunksDone = s.nextChunk
	}
	if s.state == StateDegraded {
		st.FPS = s.synthFPS
		st.Width, st.Height = s.synthWidth, s.synthHeight
		st.Buffered = s.synthetic
	}
	return st
}

// resetLocked discards the current session and installs a fresh idle one.
// A nil parent keeps the new session detached until Start supplies one.
func (p *Player) resetLocked(parent context.Context) *session {
	old := p.s
	p.cancelTimersLocked(old)
	if old.cancel != nil {
		old.cancel()
	}

	p.gen++
	s := newSession(p.gen)
	if parent != nil {
		s.ctx, s.cancel = context.WithCancel(parent)
	}
	p.s = s
	return s
}

func (p *Player) cancelTimersLocked(s *session) {
	if s.framePending {
		p.requester.CancelFrame(s.frameID)
		s.framePending = false
	}
	if s.stopDegraded != nil {
		s.stopDegraded()
		s.stopDegraded = nil
	}
}

// liveLocked reports whether gen is still the current session and in want.
func (p *Player) liveLocked(gen uint64, want State) bool {
	return p.s.gen == gen && p.s.state == want
}

func (p *Player) notify() {
	if p.listener == nil {
		return
	}
	p.listener(p.Status())
}

func loadingText(index, total int) string {
	return fmt.Sprintf("Loading %d/%d...", index+1, total)
}
