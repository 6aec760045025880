package registry

import "errors"

var (
	// ErrDuplicateWorker is returned when a live worker id is registered again
	ErrDuplicateWorker = errors.New("worker id already registered")

	// ErrUnknownWorker is returned when a worker id is not registered
	ErrUnknownWorker = errors.New("worker not found")

	// ErrAssignmentConflict is returned when an assignment races with another
	// state transition for the same worker
	ErrAssignmentConflict = errors.New("worker assignment conflict")
)
