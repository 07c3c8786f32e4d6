package daemon

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/config"
	"github.com/charlie0129/rfcal/pkg/engine"
	"github.com/charlie0129/rfcal/pkg/results"
	"github.com/charlie0129/rfcal/pkg/version"
)

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getParams(c *gin.Context) {
	values := conf.Params()
	ret := make([]config.ParamValue, 0, len(config.ParamSpecs))
	for _, p := range config.ParamSpecs {
		ret = append(ret, config.ParamValue{ParamSpec: p, Value: values[p.Name]})
	}
	c.IndentedJSON(http.StatusOK, ret)
}

func setParam(c *gin.Context) {
	name := c.Param("name")

	var v float64
	if err := c.BindJSON(&v); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := conf.SetParam(name, v); err != nil {
		abortWithError(c, err)
		return
	}
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set %s to %g", name, v)

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set %s to %g", name, v))
}

func postInputCalibration(c *gin.Context) {
	st, err := startInputCalibration()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, st)
}

func postOutputCalibration(c *gin.Context) {
	st, err := startOutputCalibration()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, st)
}

func postMeasure(c *gin.Context) {
	st, err := startMeasure()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, st)
}

func postMeasurePulse(c *gin.Context) {
	st, err := startMeasurePulse()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, st)
}

func stageParam(c *gin.Context) (calibration.Stage, bool) {
	stage, ok := calibration.ParseStage(c.Param("stage"))
	if !ok {
		err := fmt.Errorf("unknown calibration stage %q, expected input or output", c.Param("stage"))
		c.IndentedJSON(http.StatusNotFound, err.Error())
		_ = c.AbortWithError(http.StatusNotFound, err)
		return "", false
	}
	return stage, true
}

func getCalibrationTable(c *gin.Context) {
	stage, ok := stageParam(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, tableFor(stage).View(stage))
}

func deleteCalibrationTable(c *gin.Context) {
	stage, ok := stageParam(c)
	if !ok {
		return
	}

	// Tables are not cleared while a run holds the bench.
	if !bench.TryAcquire() {
		abortWithError(c, fmt.Errorf("%w: cannot clear the %s table", calibration.ErrRunInProgress, stage))
		return
	}
	defer bench.Release()

	tableFor(stage).Clear()
	if err := saveTable(stage); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusOK, fmt.Sprintf("%s calibration table cleared", stage))
}

func getTask(c *gin.Context) {
	task, err := engine.ComposeTables(inputTable, outputTable)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, task)
}

func getResults(c *gin.Context) {
	var (
		run    results.Run
		points []calibration.ResultPoint
		err    error
	)
	if id := c.Query("run"); id != "" {
		run, points, err = store.Get(c.Request.Context(), id)
	} else {
		run, points, err = store.Latest(c.Request.Context())
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, results.RunResults{Run: run, Points: points})
}

func getPulseResults(c *gin.Context) {
	var (
		run    results.Run
		points []calibration.ResultPoint
		err    error
	)
	if id := c.Query("run"); id != "" {
		run, points, err = store.Get(c.Request.Context(), id)
		if err == nil && run.Kind != calibration.RunMeasurePulse {
			err = fmt.Errorf("%w: run %s is a %s run", results.ErrNoResults, id, run.Kind)
		}
	} else {
		run, points, err = store.LatestOf(c.Request.Context(), calibration.RunMeasurePulse)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, results.Pivot(run, points))
}

func getResultRuns(c *gin.Context) {
	list, err := store.Runs(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, list)
}

func getRun(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, runs.Status())
}

func cancelRun(c *gin.Context) {
	if err := runs.Cancel(); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "cancel requested, the run stops after the current point")
}
