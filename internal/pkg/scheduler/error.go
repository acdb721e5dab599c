package scheduler

import "errors"

var (
	// ErrStageCompleted is returned when resuming a stage whose checkpoint is already completed.
	ErrStageCompleted = errors.New("stage already completed")
	// ErrInvalidConfig is returned by New for an invalid configuration.
	ErrInvalidConfig = errors.New("invalid scheduler config")
	// ErrStorage is returned when the sink or the checkpoint store kept failing.
	ErrStorage = errors.New("storage failure")
	// ErrUnknownPhase is returned when a selected phase does not exist.
	ErrUnknownPhase = errors.New("unknown phase")
)
