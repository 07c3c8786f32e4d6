package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/config"
	"github.com/charlie0129/rfcal/pkg/results"
	"github.com/charlie0129/rfcal/pkg/scheduler"
)

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetParams() ([]config.ParamValue, error) {
	var params []config.ParamValue
	if err := c.getJSON("/params", &params); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get sweep parameters")
	}
	return params, nil
}

func (c *Client) SetParam(name string, value float64) (string, error) {
	return c.Put("/params/"+url.PathEscape(name), strconv.FormatFloat(value, 'g', -1, 64))
}

func (c *Client) StartInputCalibration() (calibration.RunStatus, error) {
	return c.startRun("/calibration/input", "input calibration")
}

func (c *Client) StartOutputCalibration() (calibration.RunStatus, error) {
	return c.startRun("/calibration/output", "output calibration")
}

func (c *Client) StartMeasure() (calibration.RunStatus, error) {
	return c.startRun("/measure", "measurement")
}

func (c *Client) StartMeasurePulse() (calibration.RunStatus, error) {
	return c.startRun("/measure/pulse", "pulse measurement")
}

func (c *Client) startRun(path, what string) (calibration.RunStatus, error) {
	var st calibration.RunStatus
	ret, err := c.Post(path, "")
	if err != nil {
		return st, pkgerrors.Wrapf(err, "failed to start %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return st, pkgerrors.Wrapf(err, "failed to unmarshal run status")
	}
	return st, nil
}

func (c *Client) GetTable(stage calibration.Stage) (*calibration.TableView, error) {
	var view calibration.TableView
	if err := c.getJSON("/calibration/"+string(stage), &view); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s calibration table", stage)
	}
	return &view, nil
}

func (c *Client) ClearTable(stage calibration.Stage) (string, error) {
	return c.Delete("/calibration/" + string(stage))
}

func (c *Client) GetTask() ([]calibration.TaskPoint, error) {
	var task []calibration.TaskPoint
	if err := c.getJSON("/task", &task); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get measurement task")
	}
	return task, nil
}

// GetResults returns the points of the given run, or of the latest run when
// runID is empty.
func (c *Client) GetResults(runID string) (*results.RunResults, error) {
	path := "/results"
	if runID != "" {
		path += "?run=" + url.QueryEscape(runID)
	}
	var res results.RunResults
	if err := c.getJSON(path, &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get results")
	}
	return &res, nil
}

// GetPulseResults returns the pivot view of the given pulse run, or of the
// latest pulse run when runID is empty.
func (c *Client) GetPulseResults(runID string) (*results.PulseView, error) {
	path := "/results/pulse"
	if runID != "" {
		path += "?run=" + url.QueryEscape(runID)
	}
	var view results.PulseView
	if err := c.getJSON(path, &view); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get pulse results")
	}
	return &view, nil
}

func (c *Client) GetResultRuns() ([]results.Run, error) {
	var list []results.Run
	if err := c.getJSON("/results/runs", &list); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list result runs")
	}
	return list, nil
}

func (c *Client) GetRunStatus() (calibration.RunStatus, error) {
	var st calibration.RunStatus
	if err := c.getJSON("/run", &st); err != nil {
		return st, pkgerrors.Wrapf(err, "failed to get run status")
	}
	return st, nil
}

func (c *Client) CancelRun() (string, error) {
	return c.Post("/run/cancel", "")
}

func (c *Client) GetSchedule() (scheduler.Info, error) {
	var info scheduler.Info
	if err := c.getJSON("/schedule", &info); err != nil {
		return info, pkgerrors.Wrapf(err, "failed to get recalibration schedule")
	}
	return info, nil
}

// SetSchedule replaces the recalibration cron expression. An empty
// expression disables scheduled recalibration.
func (c *Client) SetSchedule(expr string) (scheduler.Info, error) {
	return c.sendSchedule(c.Put, "/schedule", expr, "failed to set recalibration schedule")
}

func (c *Client) PostponeSchedule(d time.Duration) (scheduler.Info, error) {
	return c.sendSchedule(c.Post, "/schedule/postpone", d.String(), "failed to postpone recalibration")
}

func (c *Client) SkipSchedule() (scheduler.Info, error) {
	var info scheduler.Info
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return info, pkgerrors.Wrapf(err, "failed to skip recalibration")
	}
	if err := json.Unmarshal([]byte(ret), &info); err != nil {
		return info, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return info, nil
}

func (c *Client) sendSchedule(send func(path, data string) (string, error), path, arg, msg string) (scheduler.Info, error) {
	var info scheduler.Info
	payload, err := json.Marshal(arg)
	if err != nil {
		return info, err
	}
	ret, err := send(path, string(payload))
	if err != nil {
		return info, pkgerrors.Wrap(err, msg)
	}
	if err := json.Unmarshal([]byte(ret), &info); err != nil {
		return info, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return info, nil
}

func (c *Client) getJSON(path string, v any) error {
	ret, err := c.Get(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ret), v); err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal response of %s", path)
	}
	return nil
}
