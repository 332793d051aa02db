package model

import "errors"

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrAlreadyFinalized is returned when a write targets a job that is
	// already SUCCESS, FAILED or TIMEOUT. The write was discarded.
	ErrAlreadyFinalized = errors.New("job already finalized")

	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrTaskIDConflict    = errors.New("external task id already set")
	ErrJobExists         = errors.New("job already exists")
)
