package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/model"
)

const (
	streamName = "COORDINATOR"

	subjectTaskAssigned     = "task.assigned."
	subjectTaskResult       = "task.result"
	subjectWorkerRegistered = "worker.registered"
	subjectWorkerOffline    = "worker.offline"
)

// Bus publishes coordinator lifecycle events over JetStream. Workers
// subscribe to task.assigned.<worker_id> for their own assignments; external
// observers can tail the whole stream.
type Bus struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewBus creates the event bus and ensures the backing stream exists.
func NewBus(js nats.JetStreamContext, logger *zap.Logger) (*Bus, error) {
	bus := &Bus{
		logger: logger.Named("event-bus"),
		js:     js,
	}

	stream, err := js.StreamInfo(streamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{"task.>", "worker.>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return bus, nil
}

type assignmentEvent struct {
	TaskID     string          `json:"task_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   int             `json:"priority"`
	Timeout    time.Duration   `json:"timeout"`
	Attempt    int             `json:"attempt"`
	AssignedAt time.Time       `json:"assigned_at"`
}

// TaskAssigned notifies the assigned worker that a task is ready to run.
func (b *Bus) TaskAssigned(ctx context.Context, task *model.Task) error {
	event := assignmentEvent{
		TaskID:   task.ID,
		Type:     task.Type,
		Payload:  task.Payload,
		Priority: task.Priority,
		Timeout:  task.Timeout,
		Attempt:  task.Attempt,
	}
	if task.AssignedAt != nil {
		event.AssignedAt = *task.AssignedAt
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal assignment: %w", err)
	}

	if _, err := b.js.Publish(subjectTaskAssigned+task.AssignedWorker, data); err != nil {
		return fmt.Errorf("failed to publish assignment: %w", err)
	}

	b.logger.Info("Task assignment published",
		zap.String("task_id", task.ID),
		zap.String("worker_id", task.AssignedWorker))
	return nil
}

// Add feeds the bus as a result sink: every recorded attempt outcome is
// published on task.result. Publish failures are logged and swallowed so the
// other sinks still see the result.
func (b *Bus) Add(ctx context.Context, result *model.TaskResult) {
	if err := b.TaskCompleted(ctx, result); err != nil {
		b.logger.Error("Failed to publish result",
			zap.String("task_id", result.TaskID),
			zap.String("worker_id", result.WorkerID),
			zap.Error(err))
	}
}

// TaskCompleted publishes the outcome of an execution attempt.
func (b *Bus) TaskCompleted(ctx context.Context, result *model.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if _, err := b.js.Publish(subjectTaskResult, data); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

type workerEvent struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerRegistered announces a worker joining the pool.
func (b *Bus) WorkerRegistered(ctx context.Context, workerID string) error {
	return b.publishWorkerEvent(subjectWorkerRegistered, workerID)
}

// WorkerOffline announces a worker leaving the pool, whether by missed
// heartbeats or by scale-down.
func (b *Bus) WorkerOffline(ctx context.Context, workerID string) error {
	return b.publishWorkerEvent(subjectWorkerOffline, workerID)
}

func (b *Bus) publishWorkerEvent(subject, workerID string) error {
	data, err := json.Marshal(workerEvent{WorkerID: workerID, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal worker event: %w", err)
	}

	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish worker event: %w", err)
	}

	b.logger.Info("Worker event published",
		zap.String("subject", subject),
		zap.String("worker_id", workerID))
	return nil
}
