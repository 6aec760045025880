package model

import (
	"encoding/json"
	"time"
)

// TaskResult represents the outcome of one execution attempt. Results are
// immutable once recorded; a retried task accumulates one record per attempt.
type TaskResult struct {
	TaskID      string             `json:"task_id"`
	WorkerID    string             `json:"worker_id"`
	Status      TaskStatus         `json:"status"`
	Output      json.RawMessage    `json:"output,omitempty"`
	Error       string             `json:"error,omitempty"`
	Duration    time.Duration      `json:"duration"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Attempt     int                `json:"attempt"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Passed reports whether the attempt completed successfully.
func (r *TaskResult) Passed() bool {
	return r.Status == TaskStatusCompleted
}
