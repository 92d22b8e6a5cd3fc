// Package scheduler runs named maintenance jobs on cron or interval
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/vibe/internal/schedule"
)

type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule *schedule.Schedule
	run      JobFunc
	next     time.Time

	lastRun    time.Time
	lastStatus string
	lastError  string
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	NextRun    time.Time `json:"next_run"`
	LastRun    time.Time `json:"last_run,omitzero"`
	LastStatus string    `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type Scheduler struct {
	pollInterval time.Duration
	now          func() time.Time
	reloadCh     chan struct{}

	mu   sync.Mutex
	jobs []*job
}

func New(pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Scheduler{
		pollInterval: pollInterval,
		now:          time.Now,
		reloadCh:     make(chan struct{}, 1),
	}
}

// Add registers a job. Adding a name twice replaces the earlier job.
func (s *Scheduler) Add(name, expr string, fn JobFunc) error {
	sched, err := schedule.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	next, err := sched.Next(s.now())
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{name: name, schedule: sched, run: fn, next: next}
	for i, existing := range s.jobs {
		if existing.name == name {
			s.jobs[i] = j
			return nil
		}
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Reschedule changes the schedule of an existing job, e.g. after a
// config reload.
func (s *Scheduler) Reschedule(name, expr string) error {
	sched, err := schedule.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	next, err := sched.Next(s.now())
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	found := false
	for _, j := range s.jobs {
		if j.name == name {
			j.schedule = sched
			j.next = next
			found = true
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("unknown job %s", name)
	}

	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
	return nil
}

func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Name:       j.name,
			Schedule:   j.schedule.String(),
			NextRun:    j.next,
			LastRun:    j.lastRun,
			LastStatus: j.lastStatus,
			LastError:  j.lastError,
		})
	}
	return out
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval, "jobs", len(s.Jobs()))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			slog.Info("scheduler jobs rescheduled")
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll runs every job that is due.
func (s *Scheduler) poll(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.execute(ctx, j)
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	slog.Info("executing scheduled job", "name", j.name)

	err := j.run(ctx)

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled job failed", "name", j.name, "error", err)
	} else {
		lastStatus = "success"
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j.lastRun = now
	j.lastStatus = lastStatus
	j.lastError = lastError
	next, err := j.schedule.Next(now)
	if err != nil {
		slog.Error("failed to compute next run", "name", j.name, "error", err)
		next = now.Add(s.pollInterval)
	}
	j.next = next
}

// Cleaner prunes old messages, e.g. *bus.Bus.
type Cleaner interface {
	Cleanup(olderThan time.Duration) (int, error)
}

// CleanupJob prunes messages older than the current retention.
func CleanupJob(c Cleaner, retention func() time.Duration) JobFunc {
	return func(ctx context.Context) error {
		r := retention()
		if r <= 0 {
			return nil
		}
		n, err := c.Cleanup(r)
		if err != nil {
			return fmt.Errorf("bus cleanup: %w", err)
		}
		slog.Info("pruned old agent messages", "count", n, "retention", r)
		return nil
	}
}
