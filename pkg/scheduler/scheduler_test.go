package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseAndNextRuns(t *testing.T) {
	from := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	runs, err := NextRuns("0 10 * * *", from, 3)
	if err != nil {
		t.Fatalf("NextRuns() error = %v", err)
	}
	for i, r := range runs {
		want := time.Date(2024, 3, 1+i, 10, 0, 0, 0, time.UTC)
		if !r.Equal(want) {
			t.Errorf("run %d = %v, want %v", i, r, want)
		}
	}

	if _, err := Parse("every tuesday"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestScheduleStatusWithoutLoop(t *testing.T) {
	s := New(func() error { return nil }, nil, nil, nil, DefaultOptions())

	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	expr, next, running := s.Status()
	if expr != "@every 10m" || next.IsZero() || running {
		t.Fatalf("Status() = %q, %v, %v", expr, next, running)
	}

	skipped, err := s.Skip()
	if err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if !skipped.After(next) {
		t.Fatalf("skip did not move the run forward: %v <= %v", skipped, next)
	}

	if err := s.Schedule(""); err != nil {
		t.Fatalf("clearing schedule error = %v", err)
	}
	if _, next, _ := s.Status(); !next.IsZero() {
		t.Fatalf("cleared schedule still has next run %v", next)
	}
	if _, err := s.Skip(); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}
}

func TestPostpone(t *testing.T) {
	s := New(func() error { return nil }, nil, nil, nil, DefaultOptions())
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatal(err)
	}
	_, next, _ := s.Status()

	tests := []struct {
		name string
		d    time.Duration
		want error
	}{
		{"negative", -time.Minute, ErrInvalidPostpone},
		{"past following run", 2 * time.Hour, ErrPostponeTooLong},
		{"ok", 10 * time.Minute, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, err := s.Postpone(tt.d)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Postpone(%v) error = %v, want %v", tt.d, err, tt.want)
			}
			if err == nil && !at.Equal(next.Add(tt.d).Truncate(time.Second)) {
				t.Fatalf("Postpone(%v) = %v", tt.d, at)
			}
		})
	}
}

func TestRunCycle(t *testing.T) {
	notifyCh := make(chan time.Time, 1)
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var preChecks int32

	s := New(
		func() error { taskCh <- struct{}{}; return nil },
		func() error { atomic.AddInt32(&preChecks, 1); return nil },
		func(at time.Time) { notifyCh <- at },
		func(err error) { errCh <- err },
		DefaultOptions(),
	)
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-notifyCh:
	case <-time.After(time.Second):
		t.Fatalf("did not receive upcoming notification in time")
	}

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	if atomic.LoadInt32(&preChecks) == 0 {
		t.Fatalf("precheck should have been executed")
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestPreCheckFailureHoldsRun(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 2)
	var attempts int32

	s := New(
		func() error { taskCh <- struct{}{}; return nil },
		func() error {
			// The bench frees up on the third attempt.
			if atomic.AddInt32(&attempts, 1) < 3 {
				return errors.New("bench busy")
			}
			return nil
		},
		nil,
		func(err error) { errCh <- err },
		Options{RetryInterval: 20 * time.Millisecond, MaxRetries: 5},
	)
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(20 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected error callback from failed precheck")
	}

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not run after precheck recovered")
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Fatalf("precheck attempts = %d, want 3", n)
	}
}
