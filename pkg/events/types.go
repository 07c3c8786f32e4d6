package events

import (
	"encoding/json"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// Event name constants
const (
	RunStarted   = "run.started"
	RunProgress  = "run.progress"
	RunFinished  = "run.finished"
	TableReset   = "table.reset"
	TableUpdated = "table.updated"

	ScheduleUpdated  = "schedule.updated"
	ScheduleUpcoming = "schedule.upcoming"
	ScheduleError    = "schedule.error"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// RunStartedEvent is the typed payload for run.started.
type RunStartedEvent struct {
	RunID  string              `json:"runId"`
	Kind   calibration.RunKind `json:"kind"`
	Points int                 `json:"points"`
	Ts     int64               `json:"ts"`
}

// RunProgressEvent is the typed payload for run.progress. Exactly one of
// Point and Result is set, depending on the run kind.
type RunProgressEvent struct {
	RunID  string                   `json:"runId"`
	Kind   calibration.RunKind      `json:"kind"`
	Index  int                      `json:"index"`
	Total  int                      `json:"total"`
	Point  *calibration.Point       `json:"point,omitempty"`
	Result *calibration.ResultPoint `json:"result,omitempty"`
}

// RunFinishedEvent is the typed payload for run.finished.
type RunFinishedEvent struct {
	RunID   string              `json:"runId"`
	Kind    calibration.RunKind `json:"kind"`
	OK      bool                `json:"ok"`
	Message string              `json:"message"`
	Ts      int64               `json:"ts"`
}

// TableEvent is the typed payload for table.reset and table.updated.
type TableEvent struct {
	Stage calibration.Stage  `json:"stage"`
	Len   int                `json:"len"`
	Point *calibration.Point `json:"point,omitempty"`
}

// ScheduleEvent is the typed payload for schedule.* events.
type ScheduleEvent struct {
	Cron    string `json:"cron,omitempty"`
	NextRun int64  `json:"nextRun,omitempty"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.RunFinishedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.OK, payload.Message)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
