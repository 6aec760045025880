package scheduler

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
)

type recordingSink struct {
	mu      sync.Mutex
	results []*model.TaskResult
}

func (s *recordingSink) Add(ctx context.Context, result *model.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func newTestScheduler(t *testing.T) (*registry.Registry, *Scheduler, *recordingSink) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	sink := &recordingSink{}
	sched := New(reg, nil, sink, time.Second, logger)
	return reg, sched, sink
}

func validSpec(priority int) model.TaskSpec {
	return model.TaskSpec{
		Type:     "integration",
		Priority: priority,
		Timeout:  time.Minute,
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	sink := MultiSink{first, second}

	sink.Add(context.Background(), &model.TaskResult{TaskID: "t1", WorkerID: "w1", Status: model.TaskStatusCompleted})

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
}

func TestSubmitValidation(t *testing.T) {
	_, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	cases := []struct {
		name string
		spec model.TaskSpec
	}{
		{"MissingType", model.TaskSpec{Priority: 1, Timeout: time.Minute}},
		{"ZeroPriority", model.TaskSpec{Type: "t", Timeout: time.Minute}},
		{"ZeroTimeout", model.TaskSpec{Type: "t", Priority: 1}},
		{"NegativeRetries", model.TaskSpec{Type: "t", Priority: 1, Timeout: time.Minute, MaxRetries: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sched.Submit(ctx, tc.spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestSubmitAssignsImmediately(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)

	task, err := sched.Submit(ctx, validSpec(5))
	require.NoError(t, err)

	got, err := sched.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusAssigned, got.Status)
	assert.Equal(t, "w1", got.AssignedWorker)
	assert.Equal(t, 1, got.Attempt)

	worker, _ := reg.Get("w1")
	assert.Equal(t, model.WorkerStatusBusy, worker.Status)
	assert.Equal(t, task.ID, worker.CurrentTaskID)
}

func TestAssignmentOrder(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	// No workers yet: all three stay pending.
	task1, err := sched.Submit(ctx, validSpec(5))
	require.NoError(t, err)
	task2, err := sched.Submit(ctx, validSpec(1))
	require.NoError(t, err)
	task3, err := sched.Submit(ctx, validSpec(5))
	require.NoError(t, err)

	_, err = reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		assert.True(t, sched.AssignTo(ctx, "w1"))
		worker, _ := reg.Get("w1")
		order = append(order, worker.CurrentTaskID)
		assert.True(t, reg.Release("w1", worker.CurrentTaskID))
	}
	assert.Equal(t, []string{task1.ID, task3.ID, task2.ID}, order)
}

func TestCapabilityMatching(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := reg.Register(model.WorkerDeclaration{ID: "cpu-only", Host: "h"})
	require.NoError(t, err)

	spec := validSpec(5)
	spec.Requires = []string{"gpu"}
	task, err := sched.Submit(ctx, spec)
	require.NoError(t, err)

	got, err := sched.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)

	_, err = reg.Register(model.WorkerDeclaration{ID: "gpu-box", Host: "h", Capabilities: []string{"gpu"}})
	require.NoError(t, err)
	assert.True(t, sched.AssignTo(ctx, "gpu-box"))

	got, err = sched.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpu-box", got.AssignedWorker)
}

func TestDependencyGate(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	dep, err := sched.Submit(ctx, validSpec(5))
	require.NoError(t, err)

	spec := validSpec(10)
	spec.Dependencies = []string{dep.ID}
	dependent, err := sched.Submit(ctx, spec)
	require.NoError(t, err)

	_, err = reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)

	// The dependent task has higher priority but is blocked, so the
	// dependency is assigned first.
	assert.True(t, sched.AssignTo(ctx, "w1"))
	got, err := sched.Task(dep.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusAssigned, got.Status)

	require.NoError(t, sched.RecordResult(ctx, &model.TaskResult{
		TaskID:   dep.ID,
		WorkerID: "w1",
		Status:   model.TaskStatusCompleted,
	}))

	// Completing the dependency released the worker, which picks up the
	// dependent task through RecordResult's follow-up assignment.
	got, err = sched.Task(dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusAssigned, got.Status)
	assert.Equal(t, "w1", got.AssignedWorker)
}

func TestRecordResult(t *testing.T) {
	t.Run("UnknownTask", func(t *testing.T) {
		_, sched, sink := newTestScheduler(t)
		err := sched.RecordResult(context.Background(), &model.TaskResult{
			TaskID:   "missing",
			WorkerID: "w1",
			Status:   model.TaskStatusCompleted,
		})
		assert.ErrorIs(t, err, ErrUnknownTask)
		assert.Zero(t, sink.count())
	})

	t.Run("Success", func(t *testing.T) {
		reg, sched, sink := newTestScheduler(t)
		ctx := context.Background()

		_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
		require.NoError(t, err)
		task, err := sched.Submit(ctx, validSpec(5))
		require.NoError(t, err)

		require.NoError(t, sched.RecordResult(ctx, &model.TaskResult{
			TaskID:   task.ID,
			WorkerID: "w1",
			Status:   model.TaskStatusCompleted,
			Duration: 3 * time.Second,
		}))

		got, err := sched.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)

		worker, _ := reg.Get("w1")
		assert.Equal(t, model.WorkerStatusIdle, worker.Status)
		assert.Equal(t, 1, sink.count())
	})

	t.Run("FailureRequeues", func(t *testing.T) {
		reg, sched, _ := newTestScheduler(t)
		ctx := context.Background()

		_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
		require.NoError(t, err)

		spec := validSpec(5)
		spec.MaxRetries = 2
		task, err := sched.Submit(ctx, spec)
		require.NoError(t, err)

		require.NoError(t, sched.RecordResult(ctx, &model.TaskResult{
			TaskID:   task.ID,
			WorkerID: "w1",
			Status:   model.TaskStatusFailed,
			Error:    "assertion failed",
		}))

		// Requeued with the budget decremented, then immediately reassigned
		// to the released worker.
		got, err := sched.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusAssigned, got.Status)
		assert.Equal(t, 1, got.RetriesLeft)
		assert.Equal(t, 2, got.Attempt)
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		reg, sched, _ := newTestScheduler(t)
		ctx := context.Background()

		_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
		require.NoError(t, err)

		task, err := sched.Submit(ctx, validSpec(5)) // MaxRetries 0
		require.NoError(t, err)

		require.NoError(t, sched.RecordResult(ctx, &model.TaskResult{
			TaskID:   task.ID,
			WorkerID: "w1",
			Status:   model.TaskStatusFailed,
		}))

		got, err := sched.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, got.Status)
		require.NotNil(t, got.CompletedAt)

		worker, _ := reg.Get("w1")
		assert.Equal(t, model.WorkerStatusIdle, worker.Status)
	})

	t.Run("StaleResultPreservedWithoutMutation", func(t *testing.T) {
		reg, sched, sink := newTestScheduler(t)
		ctx := context.Background()

		_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
		require.NoError(t, err)
		task, err := sched.Submit(ctx, validSpec(5))
		require.NoError(t, err)

		require.NoError(t, sched.RecordResult(ctx, &model.TaskResult{
			TaskID:   task.ID,
			WorkerID: "w1",
			Status:   model.TaskStatusCompleted,
		}))

		// A duplicate report for the already-completed task.
		require.NoError(t, sched.RecordResult(ctx, &model.TaskResult{
			TaskID:   task.ID,
			WorkerID: "w1",
			Status:   model.TaskStatusFailed,
		}))

		got, err := sched.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, got.Status)
		assert.Equal(t, 2, sink.count())
	})
}

func TestMarkRunning(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)
	task, err := sched.Submit(ctx, validSpec(5))
	require.NoError(t, err)

	assert.False(t, sched.MarkRunning(task.ID, "other-worker"))
	assert.True(t, sched.MarkRunning(task.ID, "w1"))
	assert.False(t, sched.MarkRunning(task.ID, "w1")) // already running

	got, err := sched.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, got.Status)
}

func TestReassign(t *testing.T) {
	t.Run("RequeuesWithBudget", func(t *testing.T) {
		reg, sched, _ := newTestScheduler(t)
		ctx := context.Background()

		_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
		require.NoError(t, err)

		spec := validSpec(5)
		spec.MaxRetries = 1
		task, err := sched.Submit(ctx, spec)
		require.NoError(t, err)

		held := reg.MarkOffline("w1")
		sched.Reassign(ctx, held)

		got, err := sched.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusPending, got.Status)
		assert.Equal(t, 0, got.RetriesLeft)
		assert.Empty(t, got.AssignedWorker)
	})

	t.Run("FailsWithoutBudget", func(t *testing.T) {
		reg, sched, _ := newTestScheduler(t)
		ctx := context.Background()

		_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
		require.NoError(t, err)
		task, err := sched.Submit(ctx, validSpec(5))
		require.NoError(t, err)

		held := reg.MarkOffline("w1")
		sched.Reassign(ctx, held)

		got, err := sched.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, got.Status)
	})
}

func TestCancel(t *testing.T) {
	_, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	t.Run("UnknownTask", func(t *testing.T) {
		assert.ErrorIs(t, sched.Cancel("missing"), ErrUnknownTask)
	})

	t.Run("PendingTask", func(t *testing.T) {
		task, err := sched.Submit(ctx, validSpec(5))
		require.NoError(t, err)

		require.NoError(t, sched.Cancel(task.ID))

		got, err := sched.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCancelled, got.Status)

		// Terminal now; a second cancel is rejected.
		assert.ErrorIs(t, sched.Cancel(task.ID), ErrTaskNotCancellable)
	})
}

func TestCancelledTaskSkippedAtAssignment(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	cancelled, err := sched.Submit(ctx, validSpec(10))
	require.NoError(t, err)
	kept, err := sched.Submit(ctx, validSpec(1))
	require.NoError(t, err)

	require.NoError(t, sched.Cancel(cancelled.ID))

	_, err = reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)
	assert.True(t, sched.AssignTo(ctx, "w1"))

	got, err := sched.Task(kept.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusAssigned, got.Status)
}

func TestSweepTimeouts(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)

	spec := model.TaskSpec{
		Type:       "integration",
		Priority:   5,
		Timeout:    10 * time.Millisecond,
		MaxRetries: 1,
	}
	task, err := sched.Submit(ctx, spec)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	sched.SweepTimeouts(ctx)

	// The timed-out attempt consumed one retry; the released worker picked
	// the task right back up.
	got, err := sched.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusAssigned, got.Status)
	assert.Equal(t, 0, got.RetriesLeft)
	assert.Equal(t, 2, got.Attempt)

	time.Sleep(20 * time.Millisecond)
	sched.SweepTimeouts(ctx)

	got, err = sched.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)

	worker, _ := reg.Get("w1")
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)
}

func TestTasksOrderedBySubmission(t *testing.T) {
	_, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	first, err := sched.Submit(ctx, validSpec(1))
	require.NoError(t, err)
	second, err := sched.Submit(ctx, validSpec(9))
	require.NoError(t, err)

	tasks := sched.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, first.ID, tasks[0].ID)
	assert.Equal(t, second.ID, tasks[1].ID)
}

func TestPendingAndRunningCounts(t *testing.T) {
	reg, sched, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := sched.Submit(ctx, validSpec(5))
	require.NoError(t, err)
	_, err = sched.Submit(ctx, validSpec(5))
	require.NoError(t, err)
	assert.Equal(t, 2, sched.PendingTasks())
	assert.Equal(t, 0, sched.RunningTasks())

	_, err = reg.Register(model.WorkerDeclaration{ID: "w1", Host: "h"})
	require.NoError(t, err)
	assert.True(t, sched.AssignTo(ctx, "w1"))

	assert.Equal(t, 1, sched.PendingTasks())
	assert.Equal(t, 1, sched.RunningTasks())
}
