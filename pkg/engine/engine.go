// Package engine implements the calibration and sweep-measurement workflow
// on top of an instrument bench:
//
//   - CalibrateInput: closed-loop power correction over a power x frequency grid
//   - CalibrateOutput: output-path correction replayed on the peak-power row
//   - Compose: merge of both tables into a corrected measurement task
//   - Measure: replay of a task producing adjusted readings
//   - MeasurePulse: the same replay with the meter gated on a pulsed trace
//
// Every operation checks its cancel token (the context) between grid points
// only; a point that has started converging is finished first. On any exit
// the generator output is switched off.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/instrument"
)

// Options tunes the engine. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	// Settle is the delay between triggering the meter and fetching during
	// calibration.
	Settle time.Duration
	// MeasureSettle is the same delay during measurement runs.
	MeasureSettle time.Duration
	// Tolerance is the convergence window of the closed loop in dB.
	Tolerance float64
	// MaxIterations bounds the correction steps per grid point.
	MaxIterations int
	// Averages is the meter averaging count.
	Averages int
	// SupplyVolts and SupplyAmps power the DUT during measurement. A zero
	// voltage leaves the source untouched.
	SupplyVolts float64
	SupplyAmps  float64
}

// DefaultOptions returns the settings used by the bench by default.
func DefaultOptions() Options {
	return Options{
		Settle:        200 * time.Millisecond,
		MeasureSettle: 100 * time.Millisecond,
		Tolerance:     0.05,
		MaxIterations: 50,
		Averages:      1,
	}
}

// Engine runs calibration and measurement on a bench. It does not take the
// bench lease itself; callers serialize runs.
type Engine struct {
	bench *instrument.Bench
	opts  Options

	// sleep is a seam for tests.
	sleep func(time.Duration)
}

// New returns an engine driving bench.
func New(bench *instrument.Bench, opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}
	return &Engine{
		bench: bench,
		opts:  opts,
		sleep: time.Sleep,
	}
}

// Options returns the options in use.
func (e *Engine) Options() Options {
	return e.opts
}

// prepare resets generator and meter and configures the meter for
// triggered readings.
func (e *Engine) prepare() error {
	if err := e.reset(); err != nil {
		return err
	}
	return e.bench.Meter.Configure(e.opts.Averages)
}

func (e *Engine) reset() error {
	if err := e.bench.Generator.Reset(); err != nil {
		return err
	}
	return e.bench.Meter.Reset()
}

// probe commands the generator to (power, freq), triggers the meter and
// returns the reading.
func (e *Engine) probe(power, freq float64, settle time.Duration) (float64, error) {
	if err := e.stimulate(power, freq); err != nil {
		return 0, err
	}
	return e.read(settle)
}

// stimulate tunes generator and meter to freq and turns the RF on at power.
func (e *Engine) stimulate(power, freq float64) error {
	g, m := e.bench.Generator, e.bench.Meter
	if err := g.SetPower(power); err != nil {
		return err
	}
	if err := g.SetFrequency(freq); err != nil {
		return err
	}
	if err := m.SetFrequency(freq); err != nil {
		return err
	}
	return g.Output(true)
}

// reprobe changes only the generator level and measures again.
func (e *Engine) reprobe(power float64, settle time.Duration) (float64, error) {
	if err := e.bench.Generator.SetPower(power); err != nil {
		return 0, err
	}
	return e.read(settle)
}

func (e *Engine) read(settle time.Duration) (float64, error) {
	if err := e.bench.Meter.Trigger(); err != nil {
		return 0, err
	}
	return e.fetch(settle)
}

// fetch waits and reads without triggering. It is used as is when the meter
// triggers itself.
func (e *Engine) fetch(settle time.Duration) (float64, error) {
	e.sleep(settle)
	return e.bench.Meter.Fetch()
}

// discardFirst takes and drops one reading: the first automatic
// measurement after a meter reset is unreliable.
func (e *Engine) discardFirst(power, freq float64, settle time.Duration) error {
	v, err := e.probe(power, freq, settle)
	if err != nil {
		return err
	}
	logrus.WithField("reading", v).Debug("discarded first reading")
	return nil
}

// outputOff switches the generator output off.
func (e *Engine) outputOff() error {
	return e.bench.Generator.Output(false)
}

// finish switches the output off and folds a failure into *err. A failure
// of the run itself takes precedence.
func (e *Engine) finish(err *error) {
	if offErr := e.outputOff(); offErr != nil {
		logrus.WithError(offErr).Error("failed to turn generator output off")
		if *err == nil {
			*err = offErr
		}
	}
}

func cancelled(ctx context.Context, done, total int) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%w after %d of %d points", calibration.ErrCancelled, done, total)
}
