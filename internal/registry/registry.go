package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/model"
)

// availabilityBuffer bounds the notification channel. A dropped notification
// is recovered by the next submission- or heartbeat-triggered assignment
// attempt, so the send never blocks.
const availabilityBuffer = 64

// Registry holds the authoritative set of known workers. All worker state
// mutation goes through it; other components hold ids only.
type Registry struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	workers   map[string]*model.Worker
	available chan string
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger.Named("registry"),
		workers:   make(map[string]*model.Worker),
		available: make(chan string, availabilityBuffer),
	}
}

// Available delivers ids of workers that became eligible for assignment
// (registered, reconciled to idle, or released). Consumed by the scheduler.
func (r *Registry) Available() <-chan string {
	return r.available
}

func (r *Registry) notifyAvailable(id string) {
	select {
	case r.available <- id:
	default:
	}
}

// Register inserts a new worker with status idle. A live (non-offline) id
// cannot be registered twice; an offline worker may re-register to rejoin.
func (r *Registry) Register(decl model.WorkerDeclaration) (*model.Worker, error) {
	r.mu.Lock()

	id := decl.ID
	if id == "" {
		id = uuid.New().String()
	}

	if existing, ok := r.workers[id]; ok && existing.Status != model.WorkerStatusOffline {
		r.mu.Unlock()
		return nil, ErrDuplicateWorker
	}

	now := time.Now()
	worker := &model.Worker{
		ID:            id,
		Host:          decl.Host,
		Port:          decl.Port,
		Capabilities:  decl.Capabilities,
		Status:        model.WorkerStatusIdle,
		LastHeartbeat: now,
		RegisteredAt:  now,
		IdleSince:     now,
	}
	r.workers[id] = worker
	snapshot := *worker
	r.mu.Unlock()

	r.logger.Info("Worker registered",
		zap.String("worker_id", id),
		zap.String("host", decl.Host),
		zap.Strings("capabilities", decl.Capabilities))

	r.notifyAvailable(id)
	return &snapshot, nil
}

// RecordHeartbeat refreshes the liveness timestamp. A worker that reports
// idle while the registry still considers it busy is reconciled and announced
// as available again; the task the registry thought it was running is
// returned so the caller can hand it back to the scheduler, mirroring
// MarkOffline. Offline workers must re-register first.
func (r *Registry) RecordHeartbeat(workerID string, status model.WorkerStatus) (string, error) {
	r.mu.Lock()

	worker, ok := r.workers[workerID]
	if !ok || worker.Status == model.WorkerStatusOffline {
		r.mu.Unlock()
		return "", ErrUnknownWorker
	}

	worker.LastHeartbeat = time.Now()

	becameIdle := false
	var dropped string
	if status == model.WorkerStatusIdle && (worker.Status != model.WorkerStatusIdle || worker.CurrentTaskID != "") {
		dropped = worker.CurrentTaskID
		worker.Status = model.WorkerStatusIdle
		worker.CurrentTaskID = ""
		worker.IdleSince = worker.LastHeartbeat
		becameIdle = true
	}
	r.mu.Unlock()

	if becameIdle {
		r.logger.Debug("Worker reconciled to idle",
			zap.String("worker_id", workerID),
			zap.String("dropped_task", dropped))
		r.notifyAvailable(workerID)
	}
	return dropped, nil
}

// MarkOffline transitions a worker to offline and returns the task ids it was
// holding so the caller can reassign them. Idempotent: an already-offline or
// unknown worker yields nothing.
func (r *Registry) MarkOffline(workerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[workerID]
	if !ok || worker.Status == model.WorkerStatusOffline {
		return nil
	}

	var held []string
	if worker.CurrentTaskID != "" {
		held = append(held, worker.CurrentTaskID)
	}
	worker.Status = model.WorkerStatusOffline
	worker.CurrentTaskID = ""

	r.logger.Warn("Worker marked offline",
		zap.String("worker_id", workerID),
		zap.Strings("held_tasks", held))

	return held
}

// Assign transitions an idle worker to busy with the given task.
func (r *Registry) Assign(workerID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	if worker.Status != model.WorkerStatusIdle {
		return ErrAssignmentConflict
	}

	worker.Status = model.WorkerStatusBusy
	worker.CurrentTaskID = taskID
	return nil
}

// Release frees a worker after its task reached a terminal state or was
// requeued. The current-task guard keeps a stale release from clobbering a
// newer assignment. Reports whether the worker transitioned to idle.
func (r *Registry) Release(workerID, taskID string) bool {
	r.mu.Lock()

	worker, ok := r.workers[workerID]
	if !ok || worker.Status != model.WorkerStatusBusy || worker.CurrentTaskID != taskID {
		r.mu.Unlock()
		return false
	}

	worker.Status = model.WorkerStatusIdle
	worker.CurrentTaskID = ""
	worker.IdleSince = time.Now()
	r.mu.Unlock()

	r.notifyAvailable(workerID)
	return true
}

// Get returns a copy of the worker.
func (r *Registry) Get(workerID string) (*model.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return nil, false
	}
	snapshot := *worker
	return &snapshot, true
}

// ListAvailable returns idle workers whose capability set covers the filter,
// ordered by registration time ascending.
func (r *Registry) ListAvailable(capabilityFilter []string) []*model.Worker {
	r.mu.RLock()
	available := make([]*model.Worker, 0)
	for _, worker := range r.workers {
		if worker.Status != model.WorkerStatusIdle {
			continue
		}
		if !worker.HasCapabilities(capabilityFilter) {
			continue
		}
		snapshot := *worker
		available = append(available, &snapshot)
	}
	r.mu.RUnlock()

	sort.Slice(available, func(i, j int) bool {
		if !available[i].RegisteredAt.Equal(available[j].RegisteredAt) {
			return available[i].RegisteredAt.Before(available[j].RegisteredAt)
		}
		return available[i].ID < available[j].ID
	})
	return available
}

// Snapshot returns a copy of every known worker.
func (r *Registry) Snapshot() []*model.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]*model.Worker, 0, len(r.workers))
	for _, worker := range r.workers {
		snapshot := *worker
		workers = append(workers, &snapshot)
	}
	return workers
}

// Counts returns the number of non-offline workers and how many of them are
// busy.
func (r *Registry) Counts() (total, busy int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, worker := range r.workers {
		switch worker.Status {
		case model.WorkerStatusBusy:
			total++
			busy++
		case model.WorkerStatusIdle:
			total++
		}
	}
	return total, busy
}

// LongestIdle returns the idle worker with the longest idle duration,
// breaking ties by earliest registration. Used for scale-down victim
// selection. Returns nil when no worker is idle.
func (r *Registry) LongestIdle() *model.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var victim *model.Worker
	for _, worker := range r.workers {
		if worker.Status != model.WorkerStatusIdle {
			continue
		}
		if victim == nil ||
			worker.IdleSince.Before(victim.IdleSince) ||
			(worker.IdleSince.Equal(victim.IdleSince) && worker.RegisteredAt.Before(victim.RegisteredAt)) {
			victim = worker
		}
	}
	if victim == nil {
		return nil
	}
	snapshot := *victim
	return &snapshot
}
