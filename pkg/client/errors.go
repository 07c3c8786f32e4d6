package client

import "errors"

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")

	// ErrConflict is returned when the daemon refuses a request in its current
	// state, e.g. a run is already in progress or a calibration is missing.
	ErrConflict = errors.New("409 conflict")

	// ErrBadRequest is returned when the daemon rejects the request arguments
	ErrBadRequest = errors.New("400 bad request")
)
