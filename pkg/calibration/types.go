package calibration

import "time"

// Stage identifies which calibration table a point belongs to.
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)

// ParseStage converts a user supplied stage name.
func ParseStage(s string) (Stage, bool) {
	switch Stage(s) {
	case StageInput, StageOutput:
		return Stage(s), true
	}
	switch s {
	case "in":
		return StageInput, true
	case "out":
		return StageOutput, true
	}
	return "", false
}

// RunKind defines the long-running operations the daemon can execute.
type RunKind string

const (
	RunCalibrateInput  RunKind = "CalibrateInput"
	RunCalibrateOutput RunKind = "CalibrateOutput"
	RunMeasure         RunKind = "Measure"
	RunMeasurePulse    RunKind = "MeasurePulse"
)

// RunState defines the lifecycle of a run.
type RunState string

const (
	RunIdle      RunState = "Idle"
	RunRunning   RunState = "Running"
	RunSucceeded RunState = "Succeeded"
	RunFailed    RunState = "Failed"
	RunCancelled RunState = "Cancelled"
)

// Point is a calibration record. PowerSet and PowerMeasured are in dBm,
// Frequency in Hz, Delta in dB.
type Point struct {
	PowerSet      float64 `json:"powerSet"`
	Frequency     float64 `json:"frequency"`
	PowerMeasured float64 `json:"powerMeasured"`
	Delta         float64 `json:"delta"`
}

// TaskPoint is a stimulus point of a composed measurement task. PowerRef is
// the commanded level of the input calibration the point was derived from.
type TaskPoint struct {
	Frequency float64 `json:"frequency"`
	PowerSet  float64 `json:"powerSet"`
	PowerRef  float64 `json:"powerRef"`
	DeltaIn   float64 `json:"deltaIn"`
	DeltaOut  float64 `json:"deltaOut"`
}

// ResultPoint is one reading of a measurement run.
type ResultPoint struct {
	Frequency     float64 `json:"frequency"`
	PowerSet      float64 `json:"powerSet"`
	PowerMeasured float64 `json:"powerMeasured"`
	PowerAdjusted float64 `json:"powerAdjusted"`
	PowerRef      float64 `json:"powerRef"`
}

// RunStatus is a synthesized view of the current (or last) run, exposed via
// the HTTP API and printed by the CLI.
type RunStatus struct {
	ID         string    `json:"id,omitempty"`
	Kind       RunKind   `json:"kind,omitempty"`
	State      RunState  `json:"state"`
	Points     int       `json:"points"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Message    string    `json:"message,omitempty"`
	CanCancel  bool      `json:"canCancel"`
}

// TableView is the tabular rendering of a calibration table: one row per
// power key, one column per frequency key.
type TableView struct {
	Stage   Stage       `json:"stage"`
	Headers []string    `json:"headers"`
	Rows    [][]float64 `json:"rows"`
	Points  []Point     `json:"points"`
}
