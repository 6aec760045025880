package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/registry"
)

// Dispatcher delivers an assignment to the worker it was matched with.
// Delivery failure does not void the assignment; workers can also poll.
type Dispatcher interface {
	TaskAssigned(ctx context.Context, task *model.Task) error
}

// ResultSink receives every recorded attempt outcome, including stale ones.
type ResultSink interface {
	Add(ctx context.Context, result *model.TaskResult)
}

// MultiSink fans each result out to every sink in order.
type MultiSink []ResultSink

// Add implements ResultSink.
func (m MultiSink) Add(ctx context.Context, result *model.TaskResult) {
	for _, sink := range m {
		sink.Add(ctx, result)
	}
}

// Scheduler owns the task store and matches pending tasks to idle, capable
// workers. Assignment is pull-based: every submission, heartbeat reconcile,
// and worker release triggers an attempt, so no polling loop is needed.
type Scheduler struct {
	logger        *zap.Logger
	registry      *registry.Registry
	dispatcher    Dispatcher
	sink          ResultSink
	sweepInterval time.Duration

	mu    sync.Mutex
	tasks map[string]*model.Task
	queue taskQueue
	seq   uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler bound to the given registry. dispatcher and sink
// may be nil.
func New(reg *registry.Registry, dispatcher Dispatcher, sink ResultSink, sweepInterval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:        logger.Named("scheduler"),
		registry:      reg,
		dispatcher:    dispatcher,
		sink:          sink,
		sweepInterval: sweepInterval,
		tasks:         make(map[string]*model.Task),
		stop:          make(chan struct{}),
	}
}

// Start launches the availability pump and the per-task timeout sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", zap.Duration("sweep_interval", s.sweepInterval))
	go s.availabilityLoop(ctx)
	go s.sweepLoop(ctx)
	return nil
}

// Stop stops the background loops.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Submit validates the spec, stores the task as pending, and immediately
// attempts assignment.
func (s *Scheduler) Submit(ctx context.Context, spec model.TaskSpec) (*model.Task, error) {
	if spec.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidSpec)
	}
	if spec.Priority <= 0 {
		return nil, fmt.Errorf("%w: priority must be positive", ErrInvalidSpec)
	}
	if spec.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidSpec)
	}
	if spec.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be non-negative", ErrInvalidSpec)
	}

	now := time.Now()
	task := &model.Task{
		ID:           uuid.New().String(),
		Type:         spec.Type,
		Payload:      spec.Payload,
		Priority:     spec.Priority,
		Dependencies: spec.Dependencies,
		Requires:     spec.Requires,
		Status:       model.TaskStatusPending,
		Timeout:      spec.Timeout,
		MaxRetries:   spec.MaxRetries,
		RetriesLeft:  spec.MaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.enqueueLocked(task)
	s.mu.Unlock()

	s.logger.Info("Task submitted",
		zap.String("task_id", task.ID),
		zap.String("type", task.Type),
		zap.Int("priority", task.Priority))

	s.AssignPending(ctx)
	return cloneTask(task), nil
}

// AssignPending scans all idle workers in availability order and assigns the
// first compatible pending task to each.
func (s *Scheduler) AssignPending(ctx context.Context) {
	for _, worker := range s.registry.ListAvailable(nil) {
		s.AssignTo(ctx, worker.ID)
	}
}

// AssignTo matches the highest-priority ready task compatible with the given
// idle worker. Reports whether an assignment was made.
func (s *Scheduler) AssignTo(ctx context.Context, workerID string) bool {
	worker, ok := s.registry.Get(workerID)
	if !ok || worker.Status != model.WorkerStatusIdle {
		return false
	}

	s.mu.Lock()
	item := s.popCompatibleLocked(worker)
	if item == nil {
		s.mu.Unlock()
		return false
	}
	task := item.task

	if err := s.registry.Assign(workerID, task.ID); err != nil {
		// Lost the race for this worker; the task keeps its place in line.
		heap.Push(&s.queue, item)
		s.mu.Unlock()
		return false
	}

	now := time.Now()
	task.Status = model.TaskStatusAssigned
	task.AssignedWorker = workerID
	task.AssignedAt = &now
	task.UpdatedAt = now
	task.Attempt++
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.logger.Info("Task assigned",
		zap.String("task_id", task.ID),
		zap.String("worker_id", workerID),
		zap.Int("attempt", snapshot.Attempt))

	if s.dispatcher != nil {
		if err := s.dispatcher.TaskAssigned(ctx, snapshot); err != nil {
			s.logger.Error("Failed to dispatch assignment",
				zap.String("task_id", task.ID),
				zap.String("worker_id", workerID),
				zap.Error(err))
		}
	}
	return true
}

// RecordResult ingests a worker-reported outcome. A result for a task no
// longer assigned to that worker is preserved in the sink but mutates no
// state (at-least-once semantics).
func (s *Scheduler) RecordResult(ctx context.Context, result *model.TaskResult) error {
	s.mu.Lock()
	task, ok := s.tasks[result.TaskID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask
	}

	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	if result.Attempt == 0 {
		result.Attempt = task.Attempt
	}

	active := task.AssignedWorker == result.WorkerID &&
		(task.Status == model.TaskStatusAssigned || task.Status == model.TaskStatusRunning)
	cancelledSlot := task.Status == model.TaskStatusCancelled && task.AssignedWorker == result.WorkerID

	release := false
	switch {
	case active:
		now := result.CompletedAt
		if result.Passed() {
			task.Status = model.TaskStatusCompleted
			task.CompletedAt = &now
			task.UpdatedAt = now
		} else {
			s.requeueOrFailLocked(task, now)
		}
		release = true
	case cancelledSlot:
		// The worker finally reported on a cancelled task; free the slot.
		task.AssignedWorker = ""
		task.AssignedAt = nil
		release = true
	}
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Add(ctx, result)
	}

	if release {
		s.registry.Release(result.WorkerID, result.TaskID)
		s.AssignTo(ctx, result.WorkerID)
	}
	return nil
}

// MarkRunning records a worker progress report, moving the task from
// assigned to running. Reports whether a transition happened.
func (s *Scheduler) MarkRunning(taskID, workerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != model.TaskStatusAssigned || task.AssignedWorker != workerID {
		return false
	}
	task.Status = model.TaskStatusRunning
	task.UpdatedAt = time.Now()
	return true
}

// Reassign requeues tasks that were dropped by their worker, whether lost to
// heartbeat timeout or reconciled back to idle, decrementing the retry
// budget; a task with no budget left fails permanently. No task is silently
// dropped.
func (s *Scheduler) Reassign(ctx context.Context, taskIDs []string) {
	now := time.Now()

	s.mu.Lock()
	for _, id := range taskIDs {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if task.Status != model.TaskStatusAssigned && task.Status != model.TaskStatusRunning {
			continue
		}
		s.requeueOrFailLocked(task, now)
	}
	s.mu.Unlock()

	s.AssignPending(ctx)
}

// Cancel removes a pending task from the queue. For an assigned or running
// task cancellation is advisory: the task is marked cancelled locally and the
// worker's own timeout/abort path stops the remote execution.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrUnknownTask
	}
	if task.Status.Terminal() {
		return ErrTaskNotCancellable
	}

	// Pending entries are removed lazily: the queue skips non-pending tasks
	// at pop time.
	task.Status = model.TaskStatusCancelled
	task.UpdatedAt = time.Now()

	s.logger.Info("Task cancelled", zap.String("task_id", taskID))
	return nil
}

// Task returns a copy of the task.
func (s *Scheduler) Task(taskID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	return cloneTask(task), nil
}

// Tasks returns copies of all tasks ordered by submission time.
func (s *Scheduler) Tasks() []*model.Task {
	s.mu.Lock()
	tasks := make([]*model.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// PendingTasks returns the number of tasks awaiting assignment.
func (s *Scheduler) PendingTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.Status == model.TaskStatusPending {
			count++
		}
	}
	return count
}

// RunningTasks returns the number of tasks currently held by workers.
func (s *Scheduler) RunningTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.Status == model.TaskStatusAssigned || task.Status == model.TaskStatusRunning {
			count++
		}
	}
	return count
}

func (s *Scheduler) availabilityLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case workerID := <-s.registry.Available():
			s.AssignTo(ctx, workerID)
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepTimeouts(ctx)
		}
	}
}

// SweepTimeouts requeues or fails every assigned task whose timeout elapsed
// without a result, treating it like a single-task worker loss. Cancelled
// tasks that kept their slot past the timeout release the worker too.
func (s *Scheduler) SweepTimeouts(ctx context.Context) {
	now := time.Now()
	type slot struct{ workerID, taskID string }
	var released []slot

	s.mu.Lock()
	for _, task := range s.tasks {
		if task.AssignedAt == nil || task.Timeout <= 0 {
			continue
		}
		if now.Sub(*task.AssignedAt) <= task.Timeout {
			continue
		}
		switch task.Status {
		case model.TaskStatusAssigned, model.TaskStatusRunning:
			worker := task.AssignedWorker
			s.logger.Warn("Task timed out",
				zap.String("task_id", task.ID),
				zap.String("worker_id", worker))
			s.requeueOrFailLocked(task, now)
			released = append(released, slot{worker, task.ID})
		case model.TaskStatusCancelled:
			released = append(released, slot{task.AssignedWorker, task.ID})
			task.AssignedWorker = ""
			task.AssignedAt = nil
		}
	}
	s.mu.Unlock()

	for _, r := range released {
		s.registry.Release(r.workerID, r.taskID)
	}
	if len(released) > 0 {
		s.AssignPending(ctx)
	}
}

// requeueOrFailLocked clears the assignment and either re-enqueues the task
// with its priority preserved or fails it permanently when the retry budget
// is exhausted. Caller holds s.mu.
func (s *Scheduler) requeueOrFailLocked(task *model.Task, now time.Time) {
	task.AssignedWorker = ""
	task.AssignedAt = nil
	task.UpdatedAt = now

	if task.RetriesLeft > 0 {
		task.RetriesLeft--
		task.Status = model.TaskStatusPending
		s.enqueueLocked(task)
		s.logger.Info("Task requeued",
			zap.String("task_id", task.ID),
			zap.Int("retries_left", task.RetriesLeft))
		return
	}

	task.Status = model.TaskStatusFailed
	task.CompletedAt = &now
	s.logger.Error("Task failed permanently", zap.String("task_id", task.ID))
}

func (s *Scheduler) enqueueLocked(task *model.Task) {
	s.seq++
	heap.Push(&s.queue, &queueItem{task: task, seq: s.seq})
}

// popCompatibleLocked pops the highest-priority pending task whose
// dependencies are all completed and whose capability requirements the worker
// meets. Entries that are no longer pending are dropped; ready-but-
// incompatible and blocked tasks are re-pushed with their original sequence,
// preserving FIFO within each priority class. Caller holds s.mu.
func (s *Scheduler) popCompatibleLocked(worker *model.Worker) *queueItem {
	var skipped []*queueItem
	var found *queueItem

	for s.queue.Len() > 0 {
		item := heap.Pop(&s.queue).(*queueItem)
		task := item.task

		if task.Status != model.TaskStatusPending {
			continue // cancelled or already assigned elsewhere
		}
		if !s.dependenciesMetLocked(task) || !worker.HasCapabilities(task.Requires) {
			skipped = append(skipped, item)
			continue
		}
		found = item
		break
	}

	for _, item := range skipped {
		heap.Push(&s.queue, item)
	}
	return found
}

func (s *Scheduler) dependenciesMetLocked(task *model.Task) bool {
	for _, dep := range task.Dependencies {
		depTask, ok := s.tasks[dep]
		if !ok || depTask.Status != model.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func cloneTask(task *model.Task) *model.Task {
	clone := *task
	if task.AssignedAt != nil {
		at := *task.AssignedAt
		clone.AssignedAt = &at
	}
	if task.CompletedAt != nil {
		ct := *task.CompletedAt
		clone.CompletedAt = &ct
	}
	return &clone
}
