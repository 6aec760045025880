package scheduler

import "errors"

var (
	// ErrUnknownTask is returned when a task id is not present in the store
	ErrUnknownTask = errors.New("task not found")

	// ErrInvalidSpec is returned when a submission fails validation
	ErrInvalidSpec = errors.New("invalid task spec")

	// ErrTaskNotCancellable is returned when cancelling a terminal task
	ErrTaskNotCancellable = errors.New("task already terminal")

	// ErrUnknownSchedule is returned when a schedule id is not registered
	ErrUnknownSchedule = errors.New("schedule not found")
)
