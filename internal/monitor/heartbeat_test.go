package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/registry"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

type recordingNotifier struct {
	mu      sync.Mutex
	offline []string
}

func (n *recordingNotifier) WorkerOffline(ctx context.Context, workerID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = append(n.offline, workerID)
	return nil
}

func (n *recordingNotifier) ids() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.offline...)
}

func TestSweepMarksStaleWorkersOffline(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	sched := scheduler.New(reg, nil, nil, time.Second, logger)
	notifier := &recordingNotifier{}
	mon := New(reg, sched, notifier, 10*time.Millisecond, 30*time.Millisecond, logger)

	ctx := context.Background()

	_, err := reg.Register(model.WorkerDeclaration{ID: "stale", Host: "h"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = reg.Register(model.WorkerDeclaration{ID: "fresh", Host: "h"})
	require.NoError(t, err)

	spec := model.TaskSpec{Type: "integration", Priority: 5, Timeout: time.Minute, MaxRetries: 1}
	task, err := sched.Submit(ctx, spec)
	require.NoError(t, err)

	// Make sure the task landed on "stale" so the sweep has something to
	// reassign; registration order makes this deterministic.
	got, err := sched.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, "stale", got.AssignedWorker)

	// Only "fresh" keeps heartbeating.
	time.Sleep(40 * time.Millisecond)
	_, err = reg.RecordHeartbeat("fresh", model.WorkerStatusIdle)
	require.NoError(t, err)

	mon.Sweep(ctx)

	staleWorker, _ := reg.Get("stale")
	assert.Equal(t, model.WorkerStatusOffline, staleWorker.Status)
	freshWorker, _ := reg.Get("fresh")
	assert.Equal(t, model.WorkerStatusIdle, freshWorker.Status)

	assert.Equal(t, []string{"stale"}, notifier.ids())

	// The held task went back through the scheduler: one retry consumed,
	// reassigned to the surviving worker.
	got, err = sched.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusAssigned, got.Status)
	assert.Equal(t, "fresh", got.AssignedWorker)
	assert.Equal(t, 0, got.RetriesLeft)
}

func TestSweepSkipsOfflineWorkers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	sched := scheduler.New(reg, nil, nil, time.Second, logger)
	notifier := &recordingNotifier{}
	mon := New(reg, sched, notifier, 10*time.Millisecond, 10*time.Millisecond, logger)

	_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)
	reg.MarkOffline("w1")

	time.Sleep(20 * time.Millisecond)
	mon.Sweep(context.Background())
	mon.Sweep(context.Background())

	// Already-offline workers are not re-reported.
	assert.Empty(t, notifier.ids())
}

func TestMonitorLoop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	sched := scheduler.New(reg, nil, nil, time.Second, logger)
	notifier := &recordingNotifier{}
	mon := New(reg, sched, notifier, 10*time.Millisecond, 20*time.Millisecond, logger)

	_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mon.Start(ctx))
	defer mon.Stop()

	assert.Eventually(t, func() bool {
		worker, ok := reg.Get("w1")
		return ok && worker.Status == model.WorkerStatusOffline
	}, time.Second, 10*time.Millisecond)
}
