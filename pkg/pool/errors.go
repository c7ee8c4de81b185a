package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWorkspaceOpen scaling requested while no workspace is open (or after a fault)
	ErrNoWorkspaceOpen = errors.New("no workspace open")
	// ErrCapacityExceeded target above the host capacity
	ErrCapacityExceeded = errors.New("worker count exceeds capacity")
	// ErrBusyExceedsTarget target below the number of busy workers
	ErrBusyExceedsTarget = errors.New("worker count below busy workers")
)

// ScaleError rejected scale request. The pool is unchanged.
type ScaleError struct {
	Target  int
	Current int
	Busy    int
	Max     int
	Err     error
}

func (e *ScaleError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCapacityExceeded):
		return fmt.Sprintf("cannot scale to %d workers: %v (max %d)", e.Target, e.Err, e.Max)
	case errors.Is(e.Err, ErrBusyExceedsTarget):
		return fmt.Sprintf("cannot scale to %d workers: %v (%d busy)", e.Target, e.Err, e.Busy)
	default:
		return fmt.Sprintf("cannot scale to %d workers: %v", e.Target, e.Err)
	}
}

func (e *ScaleError) Unwrap() error {
	return e.Err
}

// Code machine-readable reason, used by the HTTP layer
func (e *ScaleError) Code() string {
	switch {
	case errors.Is(e.Err, ErrNoWorkspaceOpen):
		return "no_workspace_open"
	case errors.Is(e.Err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(e.Err, ErrBusyExceedsTarget):
		return "busy_exceeds_target"
	default:
		return "scale_failed"
	}
}
