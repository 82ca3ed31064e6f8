package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/asciireel/internal/player"
)

// ErrTooManySessions is returned when the session limit is reached.
var ErrTooManySessions = errors.New("too many playback sessions")

// SessionInfo describes one live websocket playback session.
type SessionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	State      string    `json:"state"`
	Current    int       `json:"current"`
	Buffered   int       `json:"buffered"`
	Total      int       `json:"total"`
}

// SessionRegistry tracks live playback sessions and enforces a cap.
type SessionRegistry struct {
	mu       sync.RWMutex
	limit    int
	sessions map[string]*SessionInfo
}

// NewSessionRegistry creates a registry admitting at most limit sessions.
func NewSessionRegistry(limit int) *SessionRegistry {
	return &SessionRegistry{limit: max(1, limit), sessions: make(map[string]*SessionInfo)}
}

// Open admits a new session and returns its ID.
func (r *SessionRegistry) Open(remoteAddr string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.limit {
		return "", ErrTooManySessions
	}
	id := ulid.Make().String()
	r.sessions[id] = &SessionInfo{
		ID:         id,
		RemoteAddr: remoteAddr,
		StartedAt:  time.Now().UTC(),
		State:      player.StateIdle.String(),
		Current:    -1,
	}
	return id, nil
}

// Update records the latest player status for a session.
func (r *SessionRegistry) Update(id string, st player.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.State = st.State.String()
		s.Current = st.Current
		s.Buffered = st.Buffered
		s.Total = st.TotalFrames
	}
}

// Close forgets a session.
func (r *SessionRegistry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Max returns the session cap.
func (r *SessionRegistry) Max() int {
	return r.limit
}

// List returns a copy of every session ordered by ID, which is creation order.
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// SessionHandler exposes the session registry over the API.
type SessionHandler struct {
	registry *SessionRegistry
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(registry *SessionRegistry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionInfo `json:"sessions"`
		Max      int           `json:"max"`
	}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List playback sessions",
		Description: "Returns the live websocket playback sessions",
		Tags:        []string{"Playback"},
	}, h.List)
}

// List returns the live sessions.
func (h *SessionHandler) List(_ context.Context, _ *ListSessionsInput) (*ListSessionsOutput, error) {
	out := &ListSessionsOutput{}
	out.Body.Sessions = h.registry.List()
	out.Body.Max = h.registry.Max()
	return out, nil
}
