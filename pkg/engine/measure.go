package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/instrument"
)

// ResultSink persists the result sequence of a completed measurement.
type ResultSink interface {
	Save(ctx context.Context, points []calibration.ResultPoint) error
}

// ResultFunc receives measurement results as they are produced.
type ResultFunc func(calibration.ResultPoint)

// replayMode is what differs between a triggered and a pulsed replay.
type replayMode struct {
	name      string
	run       string
	settle    time.Duration
	configure func() error
	read      func(settle time.Duration) (float64, error)
}

// Measure replays task: each point commands PowerSet + DeltaIn and reports
// the reading with DeltaOut applied. The full result sequence is handed to
// sink (if any) once every point has been measured. The DUT supply is
// switched on for the run when SupplyVolts is set.
func (e *Engine) Measure(ctx context.Context, task []calibration.TaskPoint, sink ResultSink, report ResultFunc) ([]calibration.ResultPoint, string, error) {
	return e.replay(ctx, replayMode{
		name:   "measurement",
		run:    "measure",
		settle: e.opts.MeasureSettle,
		configure: func() error {
			return e.bench.Meter.Configure(e.opts.Averages)
		},
		read: e.read,
	}, task, sink, report)
}

// MeasurePulse replays task like Measure with the meter in continuous
// trace mode, reading the gate set up by pulse. The meter triggers on the
// pulse itself, so each point waits Settle and fetches.
func (e *Engine) MeasurePulse(ctx context.Context, task []calibration.TaskPoint, pulse instrument.PulseSettings, sink ResultSink, report ResultFunc) ([]calibration.ResultPoint, string, error) {
	if pulse.GateLength <= 0 {
		return nil, "", fmt.Errorf("%w: pulse gate length must be positive, got %g s", calibration.ErrInvalidRange, pulse.GateLength)
	}
	return e.replay(ctx, replayMode{
		name:   "pulse measurement",
		run:    "measurePulse",
		settle: e.opts.Settle,
		configure: func() error {
			return e.bench.Meter.ConfigurePulse(e.opts.Averages, pulse)
		},
		read: e.fetch,
	}, task, sink, report)
}

func (e *Engine) replay(ctx context.Context, mode replayMode, task []calibration.TaskPoint, sink ResultSink, report ResultFunc) (results []calibration.ResultPoint, msg string, err error) {
	if len(task) == 0 {
		return nil, "", fmt.Errorf("%w: measurement task is empty", calibration.ErrPrerequisiteMissing)
	}

	log := logrus.WithFields(logrus.Fields{
		"run":    mode.run,
		"points": len(task),
	})
	log.Infof("%s started", mode.name)

	// RF goes off before the DUT supply.
	if e.opts.SupplyVolts > 0 {
		defer e.supplyOff()
	}
	defer e.finish(&err)

	if err := e.reset(); err != nil {
		return nil, "", err
	}
	if err := mode.configure(); err != nil {
		return nil, "", err
	}
	if e.opts.SupplyVolts > 0 {
		if err := e.supplyOn(); err != nil {
			return nil, "", err
		}
	}
	if err := e.stimulate(task[0].PowerSet, task[0].Frequency); err != nil {
		return nil, "", err
	}
	v, err := mode.read(mode.settle)
	if err != nil {
		return nil, "", err
	}
	log.WithField("reading", v).Debug("discarded first reading")

	results = make([]calibration.ResultPoint, 0, len(task))
	for i, t := range task {
		if err := cancelled(ctx, i, len(task)); err != nil {
			log.WithField("point", i).Infof("%s cancelled", mode.name)
			return results, "", err
		}

		if err := e.stimulate(t.PowerSet+t.DeltaIn, t.Frequency); err != nil {
			return results, "", err
		}
		measured, err := mode.read(mode.settle)
		if err != nil {
			return results, "", err
		}
		r := calibration.ResultPoint{
			Frequency:     t.Frequency,
			PowerSet:      t.PowerSet,
			PowerMeasured: measured,
			PowerAdjusted: measured + t.DeltaOut,
			PowerRef:      t.PowerRef,
		}

		log.WithFields(logrus.Fields{
			"point":     i,
			"frequency": r.Frequency,
			"measured":  r.PowerMeasured,
			"adjusted":  r.PowerAdjusted,
		}).Debug("point measured")

		results = append(results, r)
		if report != nil {
			report(r)
		}
	}

	if sink != nil {
		// The run is complete at this point; a late cancel must not drop the results.
		if err := sink.Save(context.WithoutCancel(ctx), results); err != nil {
			return results, "", fmt.Errorf("failed to persist measurement results: %w", err)
		}
	}

	log.Infof("%s done", mode.name)
	return results, fmt.Sprintf("%s done: %d points", mode.name, len(results)), nil
}

func (e *Engine) supplyOn() error {
	s := e.bench.Source
	if err := s.Apply(e.opts.SupplyVolts, e.opts.SupplyAmps); err != nil {
		return err
	}
	return s.Output(true)
}

func (e *Engine) supplyOff() {
	if err := e.bench.Source.Output(false); err != nil {
		logrus.WithError(err).Error("failed to turn DC source output off")
	}
}
