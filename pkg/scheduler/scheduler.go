// Package scheduler runs a task on a cron schedule, with an advance
// notice before each run and a retried pre-check that can hold a run back
// while the bench is busy.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Options tunes the timing around each run.
type Options struct {
	// Lead is how long before a run OnUpcoming fires.
	Lead time.Duration
	// RetryInterval is the delay between failed pre-checks.
	RetryInterval time.Duration
	// MaxRetries bounds pre-check attempts before the run is dropped.
	MaxRetries int
}

// DefaultOptions returns the timing used by the daemon.
func DefaultOptions() Options {
	return Options{
		Lead:          5 * time.Minute,
		RetryInterval: 10 * time.Second,
		MaxRetries:    30,
	}
}

var (
	ErrNoSchedule       = errors.New("no active schedule")
	ErrPostponeTooLong  = errors.New("postpone duration reaches past the following run")
	ErrInvalidPostpone  = errors.New("postpone duration must be positive")
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse validates a cron expression. Descriptors like "@daily" and
// "@every 12h" are accepted.
func Parse(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// NextRuns returns the next n activation times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	ret := make([]time.Time, 0, n)
	for range n {
		from = s.Next(from)
		ret = append(ret, from)
	}
	return ret, nil
}

// Info summarizes a schedule for display.
type Info struct {
	Cron     string      `json:"cron"`
	NextRuns []time.Time `json:"nextRuns"`
	Active   bool        `json:"active"`
}

type Scheduler struct {
	task       func() error
	preCheck   func() error
	onUpcoming func(at time.Time)
	onError    func(err error)
	opts       Options

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool
	stopped  bool

	controlCh chan control
	stopCh    chan struct{}
}

type controlKind int

const (
	ctrlRecalculate controlKind = iota // schedule changed or cleared
	ctrlPostpone                       // current run moved to at
	ctrlSkip                           // current run dropped
)

type control struct {
	kind controlKind
	at   time.Time
}

// New returns a stopped scheduler without a schedule. preCheck, onUpcoming
// and onError may be nil.
func New(task, preCheck func() error, onUpcoming func(time.Time), onError func(error), opts Options) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}
	def := DefaultOptions()
	if opts.Lead < 0 {
		opts.Lead = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &Scheduler{
		task:       task,
		preCheck:   preCheck,
		onUpcoming: onUpcoming,
		onError:    onError,
		opts:       opts,
		controlCh:  make(chan control, 4),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the scheduling loop. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the scheduling loop for good.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// Schedule replaces the schedule. An empty expression clears it.
func (s *Scheduler) Schedule(expr string) error {
	var sh cron.Schedule
	if expr != "" {
		var err error
		if sh, err = Parse(expr); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.expr = expr
	s.schedule = sh
	s.nextRun = time.Time{}
	if sh != nil {
		s.nextRun = sh.Next(time.Now())
	}
	running := s.running
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"cron":    expr,
		"nextRun": s.nextRunString(),
	}).Info("schedule updated")

	if running {
		s.trySendControl(control{kind: ctrlRecalculate})
	}
	return nil
}

// Postpone moves the next run later by d. The new time must stay before
// the run after it.
func (s *Scheduler) Postpone(d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, ErrInvalidPostpone
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return time.Time{}, ErrNoSchedule
	}
	following := s.schedule.Next(s.nextRun).Truncate(time.Second)
	at := s.nextRun.Add(d).Truncate(time.Second)
	if !at.Before(following) {
		s.mu.Unlock()
		return time.Time{}, ErrPostponeTooLong
	}
	s.nextRun = at
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(control{kind: ctrlPostpone, at: at})
	}
	return at, nil
}

// Skip drops the next run and returns the one after it.
func (s *Scheduler) Skip() (time.Time, error) {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return time.Time{}, ErrNoSchedule
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	next := s.nextRun
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(control{kind: ctrlSkip})
	}
	return next, nil
}

// Status reports the schedule expression, the next run and whether the
// loop is active.
func (s *Scheduler) Status() (expr string, nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr, s.nextRun, s.running
}

func (s *Scheduler) nextRunString() string {
	_, next, _ := s.Status()
	if next.IsZero() {
		return "never"
	}
	return next.Format(time.DateTime)
}

//nolint:gocyclo
func (s *Scheduler) loop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		schedule, nextRun := s.snapshot()
		leading := s.opts.Lead > 0

		var timer *time.Timer
		switch {
		case schedule == nil || nextRun.IsZero():
			timer = time.NewTimer(10000 * time.Hour)
		case leading:
			timer = time.NewTimer(max(time.Until(nextRun)-s.opts.Lead, 0))
		default:
			timer = time.NewTimer(max(time.Until(nextRun), 0))
		}

		attempts := 0
		var lastCheckErr error

	wait:
		for {
			select {
			case <-timer.C:
				if schedule == nil || nextRun.IsZero() {
					break wait
				}

				if leading {
					leading = false
					logrus.Debugf("upcoming scheduled run at %s", nextRun.Format(time.DateTime))
					s.notifyUpcoming(nextRun)
					timer.Reset(max(time.Until(nextRun), 0))
					continue
				}

				if s.preCheck != nil {
					if err := s.preCheck(); err != nil {
						if lastCheckErr == nil || err.Error() != lastCheckErr.Error() {
							lastCheckErr = err
							s.notifyError(fmt.Errorf("precheck failed: %w", err))
						}
						attempts++
						if attempts <= s.opts.MaxRetries {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, s.opts.MaxRetries, err, s.opts.RetryInterval)
							timer.Reset(s.opts.RetryInterval)
							continue
						}
						logrus.WithError(err).Warn("scheduled run dropped after repeated precheck failures")
						s.advance(nextRun)
						break wait
					}
				}

				logrus.Infof("running scheduled task planned for %s", nextRun.Format(time.DateTime))
				go func() {
					if err := s.task(); err != nil {
						s.notifyError(fmt.Errorf("scheduled task failed: %w", err))
					}
				}()
				s.advance(nextRun)
				break wait

			case <-s.stopCh:
				timer.Stop()
				return

			case msg := <-s.controlCh:
				logrus.WithFields(logrus.Fields{
					"kind": msg.kind,
					"at":   msg.at,
				}).Debug("received control msg")

				if msg.kind == ctrlPostpone {
					nextRun = msg.at
					timer.Reset(max(time.Until(nextRun), 0))
					continue
				}
				timer.Stop()
				break wait
			}
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

// advance moves past the run planned for ran, unless the schedule changed
// in the meantime.
func (s *Scheduler) advance(ran time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(ran) {
		return
	}
	s.nextRun = s.schedule.Next(time.Now())
}

func (s *Scheduler) notifyUpcoming(at time.Time) {
	if s.onUpcoming != nil {
		go s.onUpcoming(at)
	}
}

func (s *Scheduler) notifyError(err error) {
	if s.onError != nil {
		go s.onError(err)
	}
}

func (s *Scheduler) trySendControl(c control) {
	select {
	case s.controlCh <- c:
	default:
	}
}
