package api

import (
	"context"
	"net/http"
	"time"

	"github.com/apex/log"

	"github.com/shehryarbajwa/bottle-rewards/internal/records"
)

// healthTimeout bounds the backend probe of GET /health
const healthTimeout = 2 * time.Second

// HealthChecker probes the detection backend
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RecordsHandler serves the dashboard summary and service health
type RecordsHandler struct {
	poller  *records.Poller
	backend HealthChecker
}

// NewRecordsHandler creates a new records HTTP handler
func NewRecordsHandler(poller *records.Poller, backend HealthChecker) *RecordsHandler {
	return &RecordsHandler{
		poller:  poller,
		backend: backend,
	}
}

// GetRecords handles GET /v1/records
func (h *RecordsHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		// A failed fetch shows up as the summary warning
		if err := h.poller.Refresh(r.Context()); err != nil {
			log.WithError(err).Debug("Forced records refresh failed")
		}
	}

	writeJSON(w, http.StatusOK, h.poller.Summary())
}

// Health handles GET /health
func (h *RecordsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	backend := "up"
	if err := h.backend.Health(ctx); err != nil {
		log.WithError(err).Debug("Detection backend health check failed")
		backend = "down"
	}

	summary := h.poller.Summary()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"backend":        backend,
		"recordsLoaded":  summary.Loaded,
		"recordsWarning": summary.Warning,
	})
}
