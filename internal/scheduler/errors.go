package scheduler

import "errors"

var (
	// ErrBusy is returned by TriggerNow when a run is already in progress.
	ErrBusy = errors.New("a run is already in progress")

	// ErrInvalidSchedule is returned for a cron expression gronx rejects.
	ErrInvalidSchedule = errors.New("invalid cron expression")
)
