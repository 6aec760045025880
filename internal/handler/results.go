package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsegrid/coordinator/internal/aggregator"
	"github.com/pulsegrid/coordinator/internal/metrics"
	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

// defaultSlowThreshold flags tasks whose mean duration exceeds one minute.
const defaultSlowThreshold = time.Minute

// ResultsHandler ingests attempt outcomes and serves aggregated views.
type ResultsHandler struct {
	Sched *scheduler.Scheduler
	Agg   *aggregator.Aggregator
}

// SubmitResult handles POST /task-result.
func (h *ResultsHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var result model.TaskResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if result.TaskID == "" || result.WorkerID == "" {
		respondError(w, http.StatusBadRequest, "task_id and worker_id are required")
		return
	}
	if result.Status != model.TaskStatusCompleted && result.Status != model.TaskStatusFailed {
		respondError(w, http.StatusBadRequest, "status must be completed or failed")
		return
	}

	if err := h.Sched.RecordResult(r.Context(), &result); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.TaskResults.WithLabelValues(string(result.Status)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

// Summary handles GET /results/summary.
func (h *ResultsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Agg.Summary())
}

// MetricsSummary handles GET /results/metrics.
func (h *ResultsHandler) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Agg.MetricsSummary())
}

// Failed handles GET /results/failed.
func (h *ResultsHandler) Failed(w http.ResponseWriter, r *http.Request) {
	failed := h.Agg.FailedTasks()
	if failed == nil {
		failed = []aggregator.FailedTask{}
	}
	respondJSON(w, http.StatusOK, failed)
}

// Slow handles GET /results/slow?threshold_seconds=N.
func (h *ResultsHandler) Slow(w http.ResponseWriter, r *http.Request) {
	threshold := defaultSlowThreshold
	if raw := r.URL.Query().Get("threshold_seconds"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			respondError(w, http.StatusBadRequest, "invalid threshold_seconds")
			return
		}
		threshold = time.Duration(secs * float64(time.Second))
	}

	slow := h.Agg.SlowTasks(threshold)
	if slow == nil {
		slow = []aggregator.SlowTask{}
	}
	respondJSON(w, http.StatusOK, slow)
}

// TaskSummary handles GET /results/tasks/{taskID}.
func (h *ResultsHandler) TaskSummary(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	summary, ok := h.Agg.TaskSummary(taskID)
	if !ok {
		respondError(w, http.StatusNotFound, "no results recorded for task")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// NodeSummary handles GET /workers/{workerID}/summary.
func (h *ResultsHandler) NodeSummary(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	respondJSON(w, http.StatusOK, h.Agg.NodeSummary(workerID))
}
