package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/config"
	"github.com/charlie0129/rfcal/pkg/events"
	"github.com/charlie0129/rfcal/pkg/instrument"
	"github.com/charlie0129/rfcal/pkg/results"
	"github.com/charlie0129/rfcal/pkg/runner"
	"github.com/charlie0129/rfcal/pkg/scheduler"
)

var (
	conf   config.Config
	bench  *instrument.Bench
	runs   *runner.Runner
	store  *results.Store
	sseHub *events.EventHub
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/version", getVersion)
	router.GET("/config", getConfig)
	router.GET("/params", getParams)
	router.PUT("/params/:name", setParam)
	router.POST("/calibration/input", postInputCalibration)
	router.POST("/calibration/output", postOutputCalibration)
	router.GET("/calibration/:stage", getCalibrationTable)
	router.DELETE("/calibration/:stage", deleteCalibrationTable)
	router.GET("/task", getTask)
	router.POST("/measure", postMeasure)
	router.POST("/measure/pulse", postMeasurePulse)
	router.GET("/results", getResults)
	router.GET("/results/runs", getResultRuns)
	router.GET("/results/pulse", getPulseResults)
	router.GET("/run", getRun)
	router.POST("/run/cancel", cancelRun)
	router.GET("/events", getEvents)
	router.GET("/schedule", getSchedule)
	router.PUT("/schedule", setSchedule)
	router.POST("/schedule/postpone", postponeSchedule)
	router.POST("/schedule/skip", skipSchedule)

	return router
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.(*config.File).LogrusFields()).Infof("config loaded")

	bench, err = instrument.Open(config.BenchConfig(conf))
	if err != nil {
		return pkgerrors.Wrap(err, "failed to open instrument bench")
	}
	runs = runner.New(bench)
	sseHub = events.NewEventHub()

	dir := conf.DataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create data directory %s", dir)
	}
	loadTables(dir)

	store, err = results.Open(filepath.Join(dir, "results.db"))
	if err != nil {
		return err
	}

	setupScheduler(scheduler.DefaultOptions())

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler: setupRoutes(),
	}

	// A stale socket from a previous crash prevents listening.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			return err
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	shutdown(srv)

	logrus.Info("exiting")
	return nil
}

func shutdown(srv *http.Server) {
	logrus.Info("stopping recalibration scheduler")
	recalibration.Stop()

	if err := runs.Cancel(); err == nil {
		logrus.Info("waiting for the active run to stop")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := runs.Wait(ctx); err != nil {
			logrus.Errorf("active run did not stop: %v", err)
		}
		cancel()
	}

	// SSE streams end with the hub, which lets Shutdown drain.
	sseHub.Close()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("closing result store")
	if err := store.Close(); err != nil {
		logrus.Errorf("failed to close result store: %v", err)
	}

	logrus.Info("closing instrument bench")
	if err := bench.Close(); err != nil {
		logrus.Errorf("failed to close instrument bench: %v", err)
	}
}
