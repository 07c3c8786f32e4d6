package calibration

var (
	// ErrInvalidRange is returned for bad sweep bounds or out-of-bounds
	// parameters. It is raised before any instrument command is sent.
	ErrInvalidRange = &calibrationError{"invalid range"}
	// ErrPrerequisiteMissing is returned when a stage needs data that has not
	// been produced yet, e.g. output calibration without an input table.
	ErrPrerequisiteMissing = &calibrationError{"prerequisite missing"}
	// ErrCalibrationDiverged is returned when the closed loop does not
	// converge within the iteration budget.
	ErrCalibrationDiverged = &calibrationError{"calibration diverged"}
	// ErrInstrumentCommunication wraps transport failures.
	ErrInstrumentCommunication = &calibrationError{"instrument communication error"}
	// ErrCorruptCalibrationData is returned when a persisted table cannot be parsed.
	ErrCorruptCalibrationData = &calibrationError{"corrupt calibration data"}
	// ErrTableMisaligned is returned when the output table frequencies do not
	// repeat along the input table.
	ErrTableMisaligned = &calibrationError{"calibration tables misaligned"}
	// ErrCancelled is returned when a run observed its cancel token.
	ErrCancelled = &calibrationError{"cancelled"}
	// ErrRunInProgress is returned when the bench is already leased by a run.
	ErrRunInProgress = &calibrationError{"a run is already in progress"}
	// ErrNotRunning is returned when cancelling while the bench is idle.
	ErrNotRunning = &calibrationError{"no run in progress"}
)

type calibrationError struct{ msg string }

func (e *calibrationError) Error() string { return e.msg }
