package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/config"
	"github.com/charlie0129/rfcal/pkg/engine"
	"github.com/charlie0129/rfcal/pkg/events"
	"github.com/charlie0129/rfcal/pkg/runner"
	"github.com/charlie0129/rfcal/pkg/sweep"
)

// newEngine builds an engine from the current configuration, so parameter
// changes apply to the next run.
func newEngine() *engine.Engine {
	return engine.New(bench, config.EngineOptions(conf))
}

// submit starts work on the runner and bridges its progress and outcome to
// SSE subscribers.
func submit(kind calibration.RunKind, total int, work runner.Work) (calibration.RunStatus, error) {
	index := 0
	onProgress := func(item any) {
		ev := events.RunProgressEvent{
			RunID: runs.Status().ID,
			Kind:  kind,
			Index: index,
			Total: total,
		}
		switch p := item.(type) {
		case calibration.Point:
			ev.Point = &p
		case calibration.ResultPoint:
			ev.Result = &p
		}
		index++
		sseHub.Publish(events.RunProgress, ev)
	}

	onDone := func(ok bool, msg string) {
		sseHub.Publish(events.RunFinished, events.RunFinishedEvent{
			RunID:   runs.Status().ID,
			Kind:    kind,
			OK:      ok,
			Message: msg,
			Ts:      time.Now().Unix(),
		})
		logrus.WithField("event", events.RunFinished).Debug("new event")
	}

	wrapped := func(ctx context.Context, report func(any)) (string, error) {
		sseHub.Publish(events.RunStarted, events.RunStartedEvent{
			RunID:  runs.Status().ID,
			Kind:   kind,
			Points: total,
			Ts:     time.Now().Unix(),
		})
		return work(ctx, report)
	}

	return runs.Submit(kind, wrapped, onProgress, onDone)
}

func startInputCalibration() (calibration.RunStatus, error) {
	params := config.SweepParams(conf)
	// Bad bounds are reported to the caller instead of as a failed run.
	if _, err := sweep.Generate(params); err != nil {
		return calibration.RunStatus{}, err
	}

	eng := newEngine()
	return submit(calibration.RunCalibrateInput, sweep.Len(params),
		func(ctx context.Context, report func(any)) (string, error) {
			msg, err := eng.CalibrateInput(ctx, params, inputTable, func(p calibration.Point) { report(p) })
			return persistTable(calibration.StageInput, msg, err)
		})
}

func startOutputCalibration() (calibration.RunStatus, error) {
	row := inputTable.MaxPowerRow()
	if len(row) == 0 {
		return calibration.RunStatus{}, fmt.Errorf("%w: run input calibration first", calibration.ErrPrerequisiteMissing)
	}

	eng := newEngine()
	return submit(calibration.RunCalibrateOutput, len(row),
		func(ctx context.Context, report func(any)) (string, error) {
			msg, err := eng.CalibrateOutput(ctx, inputTable, outputTable, func(p calibration.Point) { report(p) })
			return persistTable(calibration.StageOutput, msg, err)
		})
}

func startMeasure() (calibration.RunStatus, error) {
	task, err := engine.ComposeTables(inputTable, outputTable)
	if err != nil {
		return calibration.RunStatus{}, err
	}

	eng := newEngine()
	return submit(calibration.RunMeasure, len(task),
		func(ctx context.Context, report func(any)) (string, error) {
			_, msg, err := eng.Measure(ctx, task, resultSink(calibration.RunMeasure), func(r calibration.ResultPoint) { report(r) })
			return msg, err
		})
}

func startMeasurePulse() (calibration.RunStatus, error) {
	task, err := engine.ComposeTables(inputTable, outputTable)
	if err != nil {
		return calibration.RunStatus{}, err
	}
	pulse := config.PulseSettings(conf)
	if pulse.GateLength <= 0 {
		return calibration.RunStatus{}, fmt.Errorf("%w: set %s to a positive gate length", calibration.ErrInvalidRange, config.ParamGateLength)
	}

	eng := newEngine()
	return submit(calibration.RunMeasurePulse, len(task),
		func(ctx context.Context, report func(any)) (string, error) {
			_, msg, err := eng.MeasurePulse(ctx, task, pulse, resultSink(calibration.RunMeasurePulse), func(r calibration.ResultPoint) { report(r) })
			return msg, err
		})
}

// resultSink stores the readings of the active run, if a store is open.
func resultSink(kind calibration.RunKind) engine.ResultSink {
	if store == nil {
		return nil
	}
	return store.Sink(runs.Status().ID, kind)
}

// persistTable saves the table of a successful calibration. A table that
// could not be written fails the run.
func persistTable(stage calibration.Stage, msg string, err error) (string, error) {
	if err != nil {
		return msg, err
	}
	if err := saveTable(stage); err != nil {
		return "", fmt.Errorf("%s, but saving the table failed: %w", msg, err)
	}
	return msg, nil
}
