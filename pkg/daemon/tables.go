package daemon

import (
	"errors"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/caltable"
	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/events"
)

var (
	inputTable  = caltable.New()
	outputTable = caltable.New()
	dataDir     string

	unwatchTables []func()
)

var tableFiles = map[calibration.Stage]string{
	calibration.StageInput:  "cal_in.json",
	calibration.StageOutput: "cal_out.json",
}

func tableFor(stage calibration.Stage) *caltable.Table {
	if stage == calibration.StageOutput {
		return outputTable
	}
	return inputTable
}

func tablePath(stage calibration.Stage) string {
	return filepath.Join(dataDir, tableFiles[stage])
}

// loadTables restores both calibration tables from dir and starts
// publishing their changes. A corrupt file leaves its table empty.
func loadTables(dir string) {
	dataDir = dir

	for _, unwatch := range unwatchTables {
		unwatch()
	}
	unwatchTables = nil

	for _, stage := range []calibration.Stage{calibration.StageInput, calibration.StageOutput} {
		t := tableFor(stage)
		path := tablePath(stage)
		log := logrus.WithFields(logrus.Fields{
			"stage": stage,
			"path":  path,
		})

		if err := t.LoadFile(path); err != nil {
			if errors.Is(err, calibration.ErrCorruptCalibrationData) {
				log.WithError(err).Error("ignoring corrupt calibration table, recalibrate to replace it")
			} else {
				log.WithError(err).Error("failed to load calibration table")
			}
			t.Clear()
		} else {
			log.WithField("points", t.Len()).Info("calibration table loaded")
		}

		unwatchTables = append(unwatchTables, t.Watch(publishTableEvent(stage)))
	}
}

func publishTableEvent(stage calibration.Stage) caltable.WatchFunc {
	return func(e caltable.Event) {
		switch e.Kind {
		case caltable.EventReset:
			sseHub.Publish(events.TableReset, events.TableEvent{Stage: stage, Len: e.Len})
		case caltable.EventUpdated:
			p := e.Point
			sseHub.Publish(events.TableUpdated, events.TableEvent{Stage: stage, Len: e.Len, Point: &p})
		}
	}
}

func saveTable(stage calibration.Stage) error {
	path := tablePath(stage)
	if err := tableFor(stage).SaveFile(path); err != nil {
		logrus.WithError(err).WithField("path", path).Error("failed to save calibration table")
		return err
	}
	logrus.WithFields(logrus.Fields{
		"stage": stage,
		"path":  path,
	}).Info("calibration table saved")
	return nil
}
