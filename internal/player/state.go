package player

// State is the lifecycle position of a playback session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
	// StateDegraded is playback of synthetic frames while real data is unavailable.
	StateDegraded
	StateStopped
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Active reports whether the state belongs to a live session.
func (s State) Active() bool {
	return s == StateStarting || s == StatePlaying || s == StateDegraded
}

// Status is a point-in-time snapshot of the player.
type Status struct {
	State       State
	FPS         int
	Width       int // frame size once known from the manifest or synthetic playback
	Height      int
	Current     int // displayed frame index, -1 before the first presentation
	Buffered    int
	TotalFrames int
	Chunks      int
	ChunksDone  int
	Loading     string // e.g. "Loading 2/5..." while a chunk is in flight
	LastError   error
}

// LoadError returns the user-facing chunk failure text, or "" when there is none.
func (s Status) LoadError() string {
	if s.LastError == nil || s.State == StateDegraded {
		return ""
	}
	return LoadErrorText
}
