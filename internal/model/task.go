package model

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskSpec is the submission request for a new test-execution task.
type TaskSpec struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     int             `json:"priority"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Requires     []string        `json:"requires,omitempty"`
	Timeout      time.Duration   `json:"timeout"`
	MaxRetries   int             `json:"max_retries"`
}

// Task represents a unit of test-execution work. The coordinator owns every
// field; workers and API clients only ever see copies.
type Task struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       int             `json:"priority"`
	Dependencies   []string        `json:"dependencies,omitempty"`
	Requires       []string        `json:"requires,omitempty"`
	Status         TaskStatus      `json:"status"`
	AssignedWorker string          `json:"assigned_worker,omitempty"`
	Timeout        time.Duration   `json:"timeout"`
	MaxRetries     int             `json:"max_retries"`
	RetriesLeft    int             `json:"retries_left"`
	Attempt        int             `json:"attempt"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	AssignedAt     *time.Time      `json:"assigned_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}
