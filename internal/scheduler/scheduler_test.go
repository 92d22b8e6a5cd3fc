package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScheduler() (*Scheduler, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := New(time.Second)
	s.now = clock.now
	return s, clock
}

func TestPollRunsDueJobs(t *testing.T) {
	s, clock := newTestScheduler()
	runs := 0
	if err := s.Add("count", "@every 1h", func(context.Context) error {
		runs++
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.poll(context.Background())
	if runs != 0 {
		t.Errorf("expected no run before due, got %d", runs)
	}

	clock.advance(time.Hour)
	s.poll(context.Background())
	if runs != 1 {
		t.Errorf("expected 1 run, got %d", runs)
	}

	// Rescheduled an hour later
	s.poll(context.Background())
	if runs != 1 {
		t.Errorf("expected still 1 run, got %d", runs)
	}

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].LastStatus != "success" {
		t.Errorf("expected status success, got %s", jobs[0].LastStatus)
	}
	if want := clock.now().Add(time.Hour); !jobs[0].NextRun.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, jobs[0].NextRun)
	}
	if jobs[0].Schedule != "Every hour" {
		t.Errorf("expected schedule 'Every hour', got %q", jobs[0].Schedule)
	}
}

func TestJobErrorIsRecorded(t *testing.T) {
	s, clock := newTestScheduler()
	if err := s.Add("broken", "@every 1m", func(context.Context) error {
		return errors.New("disk full")
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	clock.advance(time.Minute)
	s.poll(context.Background())

	jobs := s.Jobs()
	if jobs[0].LastStatus != "error" || jobs[0].LastError != "disk full" {
		t.Errorf("expected error 'disk full', got %s %q", jobs[0].LastStatus, jobs[0].LastError)
	}
}

func TestAddInvalidSchedule(t *testing.T) {
	s, _ := newTestScheduler()
	if err := s.Add("bad", "whenever", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if n := len(s.Jobs()); n != 0 {
		t.Errorf("expected no jobs, got %d", n)
	}
}

func TestReschedule(t *testing.T) {
	s, clock := newTestScheduler()
	if err := s.Add("cleanup", "@every 24h", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Reschedule("cleanup", "@every 5m"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	if want := clock.now().Add(5 * time.Minute); !s.Jobs()[0].NextRun.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, s.Jobs()[0].NextRun)
	}
	if err := s.Reschedule("missing", "@every 5m"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(10 * time.Millisecond)
	ran := make(chan struct{}, 1)
	if err := s.Add("tick", "@every 1ms", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeCleaner struct {
	got time.Duration
	err error
}

func (f *fakeCleaner) Cleanup(olderThan time.Duration) (int, error) {
	f.got = olderThan
	return 3, f.err
}

func TestCleanupJob(t *testing.T) {
	c := &fakeCleaner{}
	if err := CleanupJob(c, func() time.Duration { return 48 * time.Hour })(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if c.got != 48*time.Hour {
		t.Errorf("expected retention 48h, got %v", c.got)
	}

	c = &fakeCleaner{err: errors.New("locked")}
	err := CleanupJob(c, func() time.Duration { return time.Hour })(context.Background())
	if err == nil || !strings.Contains(err.Error(), "locked") {
		t.Errorf("expected locked error, got %v", err)
	}

	// Zero retention disables cleanup
	c = &fakeCleaner{}
	if err := CleanupJob(c, func() time.Duration { return 0 })(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if c.got != 0 {
		t.Errorf("expected no cleanup call, got retention %v", c.got)
	}
}
