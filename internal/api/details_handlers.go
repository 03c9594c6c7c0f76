package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/bottle-rewards/internal/details"
)

// DetailsHandler holds dependencies for details HTTP handlers
type DetailsHandler struct {
	detailsMgr *details.Manager
}

// NewDetailsHandler creates a new details HTTP handler
func NewDetailsHandler(detailsMgr *details.Manager) *DetailsHandler {
	return &DetailsHandler{
		detailsMgr: detailsMgr,
	}
}

// GetDetails handles GET /v1/details/{id}
func (h *DetailsHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	d, err := h.detailsMgr.GetDetails(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, detailsErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// GetDetailsImage handles GET /v1/details/{id}/image
func (h *DetailsHandler) GetDetailsImage(w http.ResponseWriter, r *http.Request) {
	img, contentType, err := h.detailsMgr.Image(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, detailsErrorStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(img)
}

// DeleteDetails handles DELETE /v1/details/{id}
func (h *DetailsHandler) DeleteDetails(w http.ResponseWriter, r *http.Request) {
	if err := h.detailsMgr.DeleteDetails(mux.Vars(r)["id"]); err != nil {
		writeError(w, detailsErrorStatus(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func detailsErrorStatus(err error) int {
	switch {
	case errors.Is(err, details.ErrDetailsNotFound):
		return http.StatusNotFound
	case errors.Is(err, details.ErrInvalidImage):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
