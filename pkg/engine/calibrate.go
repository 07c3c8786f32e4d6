package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/caltable"
	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/sweep"
)

// PointFunc receives calibration points as they are produced.
type PointFunc func(calibration.Point)

// CalibrateInput sweeps the grid described by params. At every point the
// generator level is corrected until the meter reads the target within
// Tolerance. The stored delta is the offset of the first reading, so it can
// be reused later as a static open-loop correction.
//
// The range is validated before any instrument command is sent. table is
// cleared once the sweep starts and receives points as they converge.
func (e *Engine) CalibrateInput(ctx context.Context, params sweep.Params, table *caltable.Table, report PointFunc) (msg string, err error) {
	grid, err := sweep.Generate(params)
	if err != nil {
		return "", err
	}

	log := logrus.WithFields(logrus.Fields{
		"run":    "calibrateInput",
		"points": len(grid),
	})
	log.Info("input calibration started")

	defer e.finish(&err)

	if err := e.prepare(); err != nil {
		return "", err
	}
	if err := e.discardFirst(grid[0].Power, grid[0].Frequency, e.opts.Settle); err != nil {
		return "", err
	}

	table.Clear()
	for i, pt := range grid {
		if err := cancelled(ctx, i, len(grid)); err != nil {
			log.WithField("point", i).Info("input calibration cancelled")
			return "", err
		}

		p, iterations, err := e.converge(pt)
		if err != nil {
			return "", err
		}

		log.WithFields(logrus.Fields{
			"point":      i,
			"power":      p.PowerSet,
			"frequency":  p.Frequency,
			"measured":   p.PowerMeasured,
			"delta":      p.Delta,
			"iterations": iterations,
		}).Debug("point converged")

		table.Update(p)
		if report != nil {
			report(p)
		}
	}

	log.Info("input calibration done")
	return fmt.Sprintf("input calibration done: %d points", len(grid)), nil
}

// converge runs the closed loop for a single grid point. Each correction
// commands the target plus the residual of the latest reading; residuals do
// not accumulate.
func (e *Engine) converge(pt sweep.Point) (calibration.Point, int, error) {
	measured, err := e.probe(pt.Power, pt.Frequency, e.opts.Settle)
	if err != nil {
		return calibration.Point{}, 0, err
	}
	diff := pt.Power - measured
	first := diff

	iterations := 0
	for math.Abs(diff) > e.opts.Tolerance {
		if iterations >= e.opts.MaxIterations {
			return calibration.Point{}, iterations, fmt.Errorf("%w: %.1f dBm at %.0f Hz still %.3f dB off after %d iterations",
				calibration.ErrCalibrationDiverged, pt.Power, pt.Frequency, diff, iterations)
		}
		iterations++

		measured, err = e.reprobe(pt.Power+diff, e.opts.Settle)
		if err != nil {
			return calibration.Point{}, iterations, err
		}
		diff = pt.Power - measured
	}

	return calibration.Point{
		PowerSet:      pt.Power,
		Frequency:     pt.Frequency,
		PowerMeasured: measured,
		Delta:         first,
	}, iterations, nil
}

// CalibrateOutput replays the highest-power row of the input table through
// the output path. Each point commands the converged input reading plus its
// input delta and stores delta = input reading - output reading. There is
// one reading per point and no closed loop.
func (e *Engine) CalibrateOutput(ctx context.Context, input, output *caltable.Table, report PointFunc) (msg string, err error) {
	row := input.MaxPowerRow()
	if len(row) == 0 {
		return "", fmt.Errorf("%w: input calibration table is empty", calibration.ErrPrerequisiteMissing)
	}

	log := logrus.WithFields(logrus.Fields{
		"run":    "calibrateOutput",
		"power":  row[0].PowerSet,
		"points": len(row),
	})
	log.Info("output calibration started")

	defer e.finish(&err)

	if err := e.prepare(); err != nil {
		return "", err
	}
	if err := e.discardFirst(row[0].PowerSet, row[0].Frequency, e.opts.Settle); err != nil {
		return "", err
	}

	output.Clear()
	for i, in := range row {
		if err := cancelled(ctx, i, len(row)); err != nil {
			log.WithField("point", i).Info("output calibration cancelled")
			return "", err
		}

		measured, err := e.probe(in.PowerMeasured+in.Delta, in.Frequency, e.opts.Settle)
		if err != nil {
			return "", err
		}
		p := calibration.Point{
			PowerSet:      in.PowerSet,
			Frequency:     in.Frequency,
			PowerMeasured: measured,
			Delta:         in.PowerMeasured - measured,
		}

		log.WithFields(logrus.Fields{
			"point":     i,
			"frequency": p.Frequency,
			"measured":  p.PowerMeasured,
			"delta":     p.Delta,
		}).Debug("output point measured")

		output.Update(p)
		if report != nil {
			report(p)
		}
	}

	log.Info("output calibration done")
	return fmt.Sprintf("output calibration done: %d points at %g dBm", len(row), row[0].PowerSet), nil
}
