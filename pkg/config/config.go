package config

import (
	"time"

	"github.com/charlie0129/rfcal/pkg/instrument"
)

type Config interface {
	Generator() instrument.Address
	PowerMeter() instrument.Address
	Source() instrument.Address
	Simulate() bool
	DataDir() string
	Settle() time.Duration
	MeasureSettle() time.Duration
	QueryTimeout() time.Duration
	Tolerance() float64
	MaxIterations() int
	AllowNonRootAccess() bool
	// RecalibrationCron is the cron expression for scheduled input
	// recalibration. Empty disables it.
	RecalibrationCron() string

	// Param returns the current value of a sweep parameter.
	Param(name string) (float64, error)
	// Params returns every sweep parameter, defaults included.
	Params() map[string]float64
	// SetParam validates v against the parameter bounds and stores it.
	SetParam(name string, v float64) error

	SetSimulate(bool)
	SetAllowNonRootAccess(bool)
	SetRecalibrationCron(string)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
