package player

import (
	"sync"
	"time"
)

// FrameID identifies a pending frame request.
type FrameID uint64

// FrameRequester schedules a callback before the next display refresh.
type FrameRequester interface {
	RequestFrame(fn func(now time.Time)) FrameID
	CancelFrame(id FrameID)
}

// IntervalTimer runs fn every interval until the returned stop func is called.
type IntervalTimer interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// Clock supplies the session start time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RefreshLoop is a FrameRequester that emulates a display refreshing at a fixed rate.
type RefreshLoop struct {
	interval time.Duration

	mu     sync.Mutex
	nextID FrameID
	timers map[FrameID]*time.Timer
}

// NewRefreshLoop creates a refresh loop running at hz refreshes per second.
func NewRefreshLoop(hz int) *RefreshLoop {
	if hz <= 0 {
		hz = 60
	}
	return &RefreshLoop{
		interval: time.Second / time.Duration(hz),
		timers:   make(map[FrameID]*time.Timer),
	}
}

// RequestFrame schedules fn for the next refresh.
func (l *RefreshLoop) RequestFrame(fn func(now time.Time)) FrameID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.timers[id] = time.AfterFunc(l.interval, func() {
		l.mu.Lock()
		_, live := l.timers[id]
		delete(l.timers, id)
		l.mu.Unlock()
		if live {
			fn(time.Now())
		}
	})
	return id
}

// CancelFrame drops a pending request. Unknown or fired ids are ignored.
func (l *RefreshLoop) CancelFrame(id FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

// TickerTimer is the IntervalTimer backed by time.Ticker.
type TickerTimer struct{}

// Every implements IntervalTimer.
func (TickerTimer) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
