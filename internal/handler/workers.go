package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/registry"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

// WorkerNotifier announces worker lifecycle events; may be nil.
type WorkerNotifier interface {
	WorkerRegistered(ctx context.Context, workerID string) error
}

// WorkersHandler handles worker registration, heartbeats and listing.
type WorkersHandler struct {
	Logger   *zap.Logger
	Registry *registry.Registry
	Sched    *scheduler.Scheduler
	Notifier WorkerNotifier
}

// Register handles POST /register.
func (h *WorkersHandler) Register(w http.ResponseWriter, r *http.Request) {
	var decl model.WorkerDeclaration
	if err := json.NewDecoder(r.Body).Decode(&decl); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if decl.Host == "" {
		respondError(w, http.StatusBadRequest, "host is required")
		return
	}

	worker, err := h.Registry.Register(decl)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateWorker) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.Notifier != nil {
		if err := h.Notifier.WorkerRegistered(r.Context(), worker.ID); err != nil {
			h.Logger.Error("Failed to announce registration",
				zap.String("worker_id", worker.ID),
				zap.Error(err))
		}
	}

	respondJSON(w, http.StatusCreated, worker)
}

type heartbeatRequest struct {
	WorkerID      string             `json:"worker_id"`
	Status        model.WorkerStatus `json:"status"`
	CurrentTaskID string             `json:"current_task_id,omitempty"`
}

// Heartbeat handles POST /heartbeat. A busy worker reporting its current task
// promotes that task from assigned to running; an idle report from a worker
// the registry thought was busy hands the dropped task back to the scheduler.
func (h *WorkersHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.WorkerID == "" {
		respondError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	if req.Status == "" {
		req.Status = model.WorkerStatusIdle
	}

	dropped, err := h.Registry.RecordHeartbeat(req.WorkerID, req.Status)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownWorker) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if dropped != "" {
		h.Sched.Reassign(r.Context(), []string{dropped})
	}
	if req.Status == model.WorkerStatusBusy && req.CurrentTaskID != "" {
		h.Sched.MarkRunning(req.CurrentTaskID, req.WorkerID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /workers.
func (h *WorkersHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.Snapshot())
}
