package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/asciireel/internal/assets"
	"github.com/jmylchreest/asciireel/internal/observability"
	"github.com/jmylchreest/asciireel/internal/player"
	"github.com/jmylchreest/asciireel/internal/reel"
)

// Websocket timings.
const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxCommandSize = 512
	frameBacklog   = 8
)

// Message types on the playback socket.
const (
	MessageFrame  = "frame"
	MessageStatus = "status"
	MessageError  = "error"

	CommandStart = "start"
	CommandStop  = "stop"
	CommandReset = "reset"
)

// FrameMessage carries one frame to the browser.
type FrameMessage struct {
	Type  string   `json:"type"`
	Index int      `json:"index"`
	Rows  []string `json:"rows"`
}

// StatusMessage mirrors player.Status.
type StatusMessage struct {
	Type     string `json:"type"`
	Session  string `json:"session"`
	State    string `json:"state"`
	FPS      int    `json:"fps"`
	Current  int    `json:"current"`
	Buffered int    `json:"buffered"`
	Total    int    `json:"total"`
	Loading  string `json:"loading,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorMessage reports a rejected command.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// CommandMessage is sent by the browser.
type CommandMessage struct {
	Type string `json:"type"`
}

// PlayHandler runs one player per websocket connection and streams its
// frames and status to the browser.
type PlayHandler struct {
	fetcher  assets.Fetcher
	registry *SessionRegistry
	opts     []player.Option
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewPlayHandler creates a playback socket handler reading reels from fetcher.
func NewPlayHandler(fetcher assets.Fetcher, registry *SessionRegistry) *PlayHandler {
	return &PlayHandler{
		fetcher:  fetcher,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (h *PlayHandler) WithLogger(logger *slog.Logger) *PlayHandler {
	h.logger = logger
	return h
}

// WithPlayerOptions sets options applied to every session's player.
func (h *PlayHandler) WithPlayerOptions(opts ...player.Option) *PlayHandler {
	h.opts = opts
	return h
}

// WithCheckOrigin overrides the websocket origin check.
func (h *PlayHandler) WithCheckOrigin(fn func(r *http.Request) bool) *PlayHandler {
	h.upgrader.CheckOrigin = fn
	return h
}

// ServeHTTP upgrades the connection and runs the session until the client leaves.
func (h *PlayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.registry.Open(r.RemoteAddr)
	if errors.Is(err, ErrTooManySessions) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.registry.Close(id)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	logger := observability.WithSession(h.logger, id)
	logger.Info("playback session opened", slog.String("remote_addr", r.RemoteAddr))

	// The session outlives the upgrade request's context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	s := newPlaySession(id, conn, logger)
	opts := append(append([]player.Option{}, h.opts...),
		player.WithLogger(logger),
		player.WithStatusListener(func(st player.Status) {
			h.registry.Update(id, st)
			s.pushStatus(st)
		}),
	)
	p := player.New(h.fetcher, player.PresenterFunc(s.pushFrame), opts...)
	s.pushStatus(p.Status())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	s.readLoop(ctx, p)

	// A start still fetching its first chunk must finish before the reset,
	// or it would open a fresh session on a player nobody owns.
	cancel()
	s.starts.Wait()
	p.Reset()
	<-writerDone
	logger.Info("playback session closed")
}

// playSession owns the socket of one connection.
type playSession struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	frames chan FrameMessage
	starts sync.WaitGroup

	mu          sync.Mutex
	status      *player.Status
	statusReady chan struct{}
	errs        []string
}

func newPlaySession(id string, conn *websocket.Conn, logger *slog.Logger) *playSession {
	return &playSession{
		id:          id,
		conn:        conn,
		logger:      logger,
		frames:      make(chan FrameMessage, frameBacklog),
		statusReady: make(chan struct{}, 1),
	}
}

// pushFrame queues a frame, dropping it when the client cannot keep up.
// Every frame is a full picture, so a dropped one is simply skipped.
func (s *playSession) pushFrame(index int, frame reel.Frame) {
	select {
	case s.frames <- FrameMessage{Type: MessageFrame, Index: index, Rows: frame}:
	default:
		s.logger.Debug("dropping frame for slow client", slog.Int("index", index))
	}
}

// pushStatus replaces any unsent status with st.
func (s *playSession) pushStatus(st player.Status) {
	s.mu.Lock()
	s.status = &st
	s.mu.Unlock()
	s.signal()
}

func (s *playSession) pushError(msg string) {
	s.mu.Lock()
	s.errs = append(s.errs, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *playSession) signal() {
	select {
	case s.statusReady <- struct{}{}:
	default:
	}
}

func (s *playSession) takePending() (*player.Status, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, errs := s.status, s.errs
	s.status, s.errs = nil, nil
	return st, errs
}

func (s *playSession) readLoop(ctx context.Context, p *player.Player) {
	s.conn.SetReadLimit(maxCommandSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd CommandMessage
		if err := s.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				s.pushError("invalid command")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		switch cmd.Type {
		case CommandStart:
			// Start blocks until the first chunk arrives, so it must not hold up the reader.
			s.starts.Add(1)
			go func() {
				defer s.starts.Done()
				if err := p.Start(ctx); err != nil {
					s.pushError(err.Error())
				}
			}()
		case CommandStop:
			p.Stop()
		case CommandReset:
			p.Reset()
		default:
			s.pushError("unknown command " + cmd.Type)
		}
	}
}

func (s *playSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-s.frames:
			if !s.write(msg) {
				return
			}
		case <-s.statusReady:
			st, errs := s.takePending()
			for _, e := range errs {
				if !s.write(ErrorMessage{Type: MessageError, Error: e}) {
					return
				}
			}
			if st != nil && !s.write(s.statusMessage(*st)) {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *playSession) write(v any) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.fail(err)
		return false
	}
	return true
}

// fail closes the socket so the read loop returns.
func (s *playSession) fail(err error) {
	s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
	_ = s.conn.Close()
}

func (s *playSession) statusMessage(st player.Status) StatusMessage {
	msg := StatusMessage{
		Type:     MessageStatus,
		Session:  s.id,
		State:    st.State.String(),
		FPS:      st.FPS,
		Current:  st.Current,
		Buffered: st.Buffered,
		Total:    st.TotalFrames,
		Loading:  st.Loading,
		Error:    st.LoadError(),
	}
	return msg
}
