// Package scheduler runs recurring maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// JobFunc is the work performed by a job.
type JobFunc func(ctx context.Context) error

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name      string
	Schedule  string
	Next      time.Time
	LastRun   time.Time
	LastError string
	Runs      int
	Running   bool
}

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	fn       JobFunc

	next    time.Time
	lastRun time.Time
	lastErr error
	runs    int
	running bool
}

// Scheduler checks registered jobs every sync interval and runs those that
// are due. A job never overlaps with itself: a run that is still going when
// the next one falls due is skipped.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*job
	parser cron.Parser
	now    func() time.Time
	logger *slog.Logger

	syncInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// defaultSyncInterval is how often due jobs are checked for.
const defaultSyncInterval = time.Minute

// New creates a scheduler accepting standard five-field cron expressions and
// descriptors such as "@hourly" or "@every 10m".
func New() *Scheduler {
	return &Scheduler{
		jobs:         make(map[string]*job),
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:          time.Now,
		logger:       slog.Default(),
		syncInterval: defaultSyncInterval,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Add registers a job. Names must be unique and the schedule must parse.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	s.jobs[name] = &job{
		name:     name,
		spec:     spec,
		schedule: schedule,
		fn:       fn,
		next:     schedule.Next(s.now()),
	}
	return nil
}

// Start begins the background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.Duration("sync_interval", s.syncInterval),
		slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			Name:     j.name,
			Schedule: j.spec,
			Next:     j.next,
			LastRun:  j.lastRun,
			Runs:     j.runs,
			Running:  j.running,
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue(s.ctx)
		}
	}
}

// runDue launches every job whose next run time has passed.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if now.Before(j.next) {
			continue
		}
		j.next = j.schedule.Next(now)
		if j.running {
			s.logger.Warn("skipping job, previous run still in progress", slog.String("job", j.name))
			continue
		}
		j.running = true
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.wg.Add(1)
		go s.run(ctx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	start := s.now()
	err := j.fn(ctx)
	duration := s.now().Sub(start)

	s.mu.Lock()
	j.running = false
	j.lastRun = start
	j.lastErr = err
	j.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", j.name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("scheduled job completed",
		slog.String("job", j.name),
		slog.Duration("duration", duration))
}
