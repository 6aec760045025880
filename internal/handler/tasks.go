package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsegrid/coordinator/internal/metrics"
	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

// TasksHandler handles task submission, inspection and cancellation.
type TasksHandler struct {
	Sched *scheduler.Scheduler
}

// Submit handles POST /tasks. Accepted tasks are queued and return 202.
func (h *TasksHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var spec model.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	task, err := h.Sched.Submit(r.Context(), spec)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidSpec) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.TasksSubmitted.Inc()
	respondJSON(w, http.StatusAccepted, task)
}

// List handles GET /tasks. A worker query parameter narrows the listing to
// tasks currently assigned to that worker, which is how polling workers
// discover their assignments without the event stream.
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks := h.Sched.Tasks()
	if worker := r.URL.Query().Get("worker"); worker != "" {
		filtered := make([]*model.Task, 0, len(tasks))
		for _, task := range tasks {
			if task.AssignedWorker == worker {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	respondJSON(w, http.StatusOK, tasks)
}

// Get handles GET /tasks/{taskID}.
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := h.Sched.Task(taskID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// Cancel handles POST /tasks/{taskID}/cancel.
func (h *TasksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := h.Sched.Cancel(taskID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownTask):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, scheduler.ErrTaskNotCancellable):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
