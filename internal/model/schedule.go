package model

import "time"

// Schedule binds a cron expression to a task spec. Each firing submits a
// fresh task built from the spec.
type Schedule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	Spec        TaskSpec   `json:"spec"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
