// Package runner executes long-running bench operations off the caller's
// goroutine. At most one run is active at a time. Progress items are queued
// and delivered in order on a dedicated dispatcher goroutine, and the
// completion callback fires exactly once, after the last progress item.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// Lease grants exclusive use of the bench. *instrument.Bench implements it.
type Lease interface {
	TryAcquire() bool
	Release()
}

// Work is the body of a run. It must observe ctx between points and call
// report for every point it produces.
type Work func(ctx context.Context, report func(item any)) (msg string, err error)

// ProgressFunc receives progress items in the order they were reported.
type ProgressFunc func(item any)

// DoneFunc is called once per run with the outcome.
type DoneFunc func(ok bool, msg string)

// queueSize bounds the progress items in flight. A slow consumer stalls the
// run.
const queueSize = 64

type Runner struct {
	lease Lease

	mu     sync.Mutex
	seq    int
	status calibration.RunStatus
	cancel context.CancelFunc
	done   chan struct{}

	// now is a seam for tests.
	now func() time.Time
}

// New returns an idle runner guarding lease.
func New(lease Lease) *Runner {
	return &Runner{
		lease:  lease,
		status: calibration.RunStatus{State: calibration.RunIdle},
		now:    time.Now,
	}
}

// Submit starts work as a run of the given kind. It fails with
// ErrRunInProgress if another run holds the bench.
func (r *Runner) Submit(kind calibration.RunKind, work Work, onProgress ProgressFunc, onDone DoneFunc) (calibration.RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State == calibration.RunRunning || !r.lease.TryAcquire() {
		return r.status, fmt.Errorf("%w: cannot start %s", calibration.ErrRunInProgress, kind)
	}

	r.seq++
	id := fmt.Sprintf("%s-%d-%d", kind, r.now().Unix(), r.seq)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.status = calibration.RunStatus{
		ID:        id,
		Kind:      kind,
		State:     calibration.RunRunning,
		StartedAt: r.now(),
		CanCancel: true,
	}
	r.cancel = cancel
	r.done = done

	logrus.WithFields(logrus.Fields{
		"run":  id,
		"kind": kind,
	}).Info("run started")

	queue := make(chan any, queueSize)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for item := range queue {
			if onProgress != nil {
				onProgress(item)
			}
		}
	}()

	go r.run(ctx, cancel, id, kind, work, queue, dispatched, onDone, done)

	return r.status, nil
}

func (r *Runner) run(
	ctx context.Context,
	cancel context.CancelFunc,
	id string,
	kind calibration.RunKind,
	work Work,
	queue chan any,
	dispatched <-chan struct{},
	onDone DoneFunc,
	done chan struct{},
) {
	defer close(done)
	defer cancel()

	report := func(item any) {
		r.mu.Lock()
		r.status.Points++
		r.mu.Unlock()
		queue <- item
	}

	msg, err := safeRun(ctx, work, report)

	// Every progress item is delivered before the outcome.
	close(queue)
	<-dispatched

	ok, msg := outcome(kind, msg, err)

	r.mu.Lock()
	switch {
	case ok:
		r.status.State = calibration.RunSucceeded
	case errors.Is(err, calibration.ErrCancelled):
		r.status.State = calibration.RunCancelled
	default:
		r.status.State = calibration.RunFailed
	}
	r.status.Message = msg
	r.status.FinishedAt = r.now()
	r.status.CanCancel = false
	r.cancel = nil
	r.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"run":  id,
		"kind": kind,
	})
	if ok {
		log.Info(msg)
	} else {
		log.WithError(err).Warn("run did not complete")
	}

	// The lease is held until the completion callback returns.
	if onDone != nil {
		onDone(ok, msg)
	}
	r.lease.Release()
}

func safeRun(ctx context.Context, work Work, report func(any)) (msg string, err error) {
	defer func() {
		if p := recover(); p != nil {
			logrus.WithField("panic", p).Error("run panicked")
			err = fmt.Errorf("run aborted: %v", p)
		}
	}()
	return work(ctx, report)
}

func outcome(kind calibration.RunKind, msg string, err error) (bool, string) {
	if err == nil {
		if msg == "" {
			msg = fmt.Sprintf("%s done", kind)
		}
		return true, msg
	}
	if errors.Is(err, calibration.ErrCancelled) {
		return false, fmt.Sprintf("%s %v", kind, err)
	}
	return false, fmt.Sprintf("%s failed: %v", kind, err)
}

// Cancel signals the active run to stop at the next point boundary.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State != calibration.RunRunning || r.cancel == nil {
		return calibration.ErrNotRunning
	}
	r.cancel()
	r.status.CanCancel = false
	logrus.WithField("run", r.status.ID).Info("run cancel requested")
	return nil
}

// Status returns a snapshot of the active or last run.
func (r *Runner) Status() calibration.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Wait blocks until the active run, if any, has fully completed or ctx is
// done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
