package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/events"
	"github.com/charlie0129/rfcal/pkg/scheduler"
)

var recalibration *scheduler.Scheduler

// setupScheduler starts scheduled input recalibration from the configured
// cron expression.
func setupScheduler(opts scheduler.Options) {
	recalibration = scheduler.New(scheduledRecalibration, recalibrationPreCheck, onRecalibrationUpcoming, onRecalibrationError, opts)

	if expr := conf.RecalibrationCron(); expr != "" {
		if err := recalibration.Schedule(expr); err != nil {
			logrus.WithError(err).Error("ignoring invalid recalibration schedule")
		}
	}
	recalibration.Start()
}

func scheduledRecalibration() error {
	_, err := startInputCalibration()
	return err
}

func recalibrationPreCheck() error {
	if runs.Status().State == calibration.RunRunning {
		return calibration.ErrRunInProgress
	}
	return nil
}

func onRecalibrationUpcoming(at time.Time) {
	sseHub.Publish(events.ScheduleUpcoming, events.ScheduleEvent{
		NextRun: at.Unix(),
		Message: fmt.Sprintf("Input recalibration starts at %s", at.Local().Format("Jan _2 15:04")),
		Ts:      time.Now().Unix(),
	})
}

func onRecalibrationError(err error) {
	logrus.WithError(err).Warn("scheduled recalibration")
	sseHub.Publish(events.ScheduleError, events.ScheduleEvent{
		Message: err.Error(),
		Ts:      time.Now().Unix(),
	})
}

func scheduleStatus() scheduler.Info {
	expr, next, running := recalibration.Status()
	st := scheduler.Info{Cron: expr, Active: running && !next.IsZero(), NextRuns: []time.Time{}}
	if next.IsZero() {
		return st
	}
	st.NextRuns = append(st.NextRuns, next)
	if more, err := scheduler.NextRuns(expr, next, 2); err == nil {
		st.NextRuns = append(st.NextRuns, more...)
	}
	return st
}

func getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, scheduleStatus())
}

func setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := recalibration.Schedule(expr); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", calibration.ErrInvalidRange, err))
		return
	}

	conf.SetRecalibrationCron(expr)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	st := scheduleStatus()
	ev := events.ScheduleEvent{Cron: expr, Message: "Recalibration schedule disabled", Ts: time.Now().Unix()}
	if len(st.NextRuns) > 0 {
		ev.NextRun = st.NextRuns[0].Unix()
		ev.Message = fmt.Sprintf("Recalibration scheduled at %s", st.NextRuns[0].Local().Format("Jan _2 15:04"))
	}
	sseHub.Publish(events.ScheduleUpdated, ev)

	c.IndentedJSON(http.StatusCreated, st)
}

func postponeSchedule(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", calibration.ErrInvalidRange, err))
		return
	}

	at, err := recalibration.Postpone(d)
	if err != nil {
		abortWithError(c, err)
		return
	}

	sseHub.Publish(events.ScheduleUpdated, events.ScheduleEvent{
		NextRun: at.Unix(),
		Message: fmt.Sprintf("Recalibration postponed for %s", d),
		Ts:      time.Now().Unix(),
	})
	c.IndentedJSON(http.StatusOK, scheduleStatus())
}

func skipSchedule(c *gin.Context) {
	next, err := recalibration.Skip()
	if err != nil {
		abortWithError(c, err)
		return
	}

	sseHub.Publish(events.ScheduleUpdated, events.ScheduleEvent{
		NextRun: next.Unix(),
		Message: "Next recalibration skipped",
		Ts:      time.Now().Unix(),
	})
	c.IndentedJSON(http.StatusOK, scheduleStatus())
}
