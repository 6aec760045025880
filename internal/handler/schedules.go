package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsegrid/coordinator/internal/model"
	"github.com/pulsegrid/coordinator/internal/scheduler"
)

// SchedulesHandler manages recurring task submissions.
type SchedulesHandler struct {
	Manager *scheduler.ScheduleManager
}

// Create handles POST /schedules.
func (h *SchedulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var schedule model.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.Manager.Add(&schedule); err != nil {
		if errors.Is(err, scheduler.ErrInvalidSpec) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, schedule)
}

// List handles GET /schedules.
func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Manager.List())
}

// Get handles GET /schedules/{scheduleID}.
func (h *SchedulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")

	schedule, err := h.Manager.Get(scheduleID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, schedule)
}

// Delete handles DELETE /schedules/{scheduleID}.
func (h *SchedulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")

	if err := h.Manager.Remove(scheduleID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
