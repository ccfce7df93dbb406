package retention

import "errors"

var (
	// ErrSweepInProgress is returned when a sweep is requested while a
	// previous sweep is still running.
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrInvalidConfig is returned when a worker or sweeper is constructed
	// with missing or nonsensical dependencies.
	ErrInvalidConfig = errors.New("invalid retention config")
)
