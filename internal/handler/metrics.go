package handler

import (
	"net/http"

	"github.com/pulsegrid/coordinator/internal/model"
)

// SnapshotProvider computes the current scaling metrics view.
type SnapshotProvider interface {
	Snapshot() *model.ScalingSnapshot
}

// MetricsHandler serves the coordinator's scaling snapshot.
type MetricsHandler struct {
	Provider SnapshotProvider
}

// Snapshot handles GET /metrics.
func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Provider.Snapshot())
}
