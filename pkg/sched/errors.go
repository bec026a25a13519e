package sched

import "errors"

var (
	// ErrNotInitialized is returned when a scheduling entry point is
	// called before Init.
	ErrNotInitialized = errors.New("scheduler not initialized")

	// ErrBadValue is returned for an invalid mode, CPU or thread id.
	ErrBadValue = errors.New("bad value")
)
