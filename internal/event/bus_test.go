package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/testutil"
)

func TestBusCreatesStream(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	_, err := NewBus(js, logger)
	require.NoError(t, err)

	info, err := js.StreamInfo("COORDINATOR")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task.>", "worker.>"}, info.Config.Subjects)

	// Creating a second bus against the existing stream must not fail.
	_, err = NewBus(js, logger)
	require.NoError(t, err)
}

func TestTaskAssigned(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	bus, err := NewBus(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	now := time.Now()
	task := &model.Task{
		ID:             "t1",
		Type:           "integration",
		Payload:        json.RawMessage(`{"suite":"api"}`),
		Priority:       5,
		Status:         model.TaskStatusAssigned,
		AssignedWorker: "w1",
		Timeout:        time.Minute,
		Attempt:        1,
		AssignedAt:     &now,
	}
	require.NoError(t, bus.TaskAssigned(context.Background(), task))

	msgs, err := testutil.ConsumeMessages(js, "task.assigned.w1", time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var event struct {
		TaskID   string          `json:"task_id"`
		Type     string          `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		Priority int             `json:"priority"`
		Attempt  int             `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(msgs[0], &event))
	assert.Equal(t, "t1", event.TaskID)
	assert.Equal(t, "integration", event.Type)
	assert.Equal(t, 5, event.Priority)
	assert.Equal(t, 1, event.Attempt)
	assert.JSONEq(t, `{"suite":"api"}`, string(event.Payload))
}

func TestTaskCompleted(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	bus, err := NewBus(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	result := &model.TaskResult{
		TaskID:      "t1",
		WorkerID:    "w1",
		Status:      model.TaskStatusCompleted,
		Duration:    3 * time.Second,
		Attempt:     1,
		CompletedAt: time.Now(),
	}
	require.NoError(t, bus.TaskCompleted(context.Background(), result))

	msgs, err := testutil.ConsumeMessages(js, "task.result", time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got model.TaskResult
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
}

func TestBusAsResultSink(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	bus, err := NewBus(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	// The sink path takes every recorded outcome onto the stream.
	bus.Add(context.Background(), &model.TaskResult{
		TaskID:      "t1",
		WorkerID:    "w1",
		Status:      model.TaskStatusFailed,
		Error:       "assertion failed",
		Attempt:     2,
		CompletedAt: time.Now(),
	})

	msgs, err := testutil.ConsumeMessages(js, "task.result", time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got model.TaskResult
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempt)
}

func TestWorkerEvents(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	bus, err := NewBus(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.WorkerRegistered(ctx, "w1"))
	require.NoError(t, bus.WorkerOffline(ctx, "w1"))

	registered, err := testutil.ConsumeMessages(js, "worker.registered", time.Second)
	require.NoError(t, err)
	require.Len(t, registered, 1)

	offline, err := testutil.ConsumeMessages(js, "worker.offline", time.Second)
	require.NoError(t, err)
	require.Len(t, offline, 1)

	var event struct {
		WorkerID string `json:"worker_id"`
	}
	require.NoError(t, json.Unmarshal(offline[0], &event))
	assert.Equal(t, "w1", event.WorkerID)
}
