package model

import "time"

// ScalingSnapshot is a point-in-time view of fleet load, recomputed on demand
// from the registry and the task store. It is never persisted.
type ScalingSnapshot struct {
	TotalWorkers    int        `json:"total_workers"`
	BusyWorkers     int        `json:"busy_workers"`
	PendingTasks    int        `json:"pending_tasks"`
	RunningTasks    int        `json:"running_tasks"`
	Utilization     float64    `json:"utilization"`
	AvgTaskSeconds  float64    `json:"avg_task_seconds"`
	HostCPUPercent  float64    `json:"host_cpu_percent"`
	HostMemPercent  float64    `json:"host_mem_percent"`
	LastScaleAction *time.Time `json:"last_scale_action,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}
