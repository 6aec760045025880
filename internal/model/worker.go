package model

import "time"

// WorkerStatus represents the current status of a worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusOffline WorkerStatus = "offline"
)

// Worker represents a remote test-execution process tracked by the registry
type Worker struct {
	ID            string       `json:"id"`
	Host          string       `json:"host"`
	Port          int          `json:"port"`
	Capabilities  []string     `json:"capabilities,omitempty"`
	Status        WorkerStatus `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	CurrentTaskID string       `json:"current_task_id,omitempty"`
	RegisteredAt  time.Time    `json:"registered_at"`
	IdleSince     time.Time    `json:"idle_since"`
}

// WorkerDeclaration is the registration request a worker sends on startup.
type WorkerDeclaration struct {
	ID           string   `json:"id,omitempty"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapabilities reports whether the worker's capability set covers every
// required tag.
func (w *Worker) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(w.Capabilities))
	for _, c := range w.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}
