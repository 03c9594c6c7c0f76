package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/apex/log"
	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/bottle-rewards/internal/session"
	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

// Handler holds dependencies for session HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionMgr *session.Manager) *Handler {
	return &Handler{
		sessionMgr: sessionMgr,
	}
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ClientID == "" {
		req.ClientID = getClientID(r)
	}

	session, err := h.sessionMgr.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionMgr.GetSession(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	statusStr := r.URL.Query().Get("status")

	var status models.SessionStatus
	if statusStr != "" {
		status = models.SessionStatus(statusStr)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown status: "+statusStr)
			return
		}
	}

	writeJSON(w, http.StatusOK, h.sessionMgr.ListSessions(clientID, status))
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionMgr.DeleteSession(mux.Vars(r)["id"]); err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StartDetection handles POST /v1/sessions/{id}/start
func (h *Handler) StartDetection(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.sessionMgr.Controller(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	if !ctrl.Start() {
		writeError(w, http.StatusConflict, "Detection already in progress")
		return
	}

	writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

// DismissDetection handles POST /v1/sessions/{id}/dismiss
func (h *Handler) DismissDetection(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.sessionMgr.Controller(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	ctrl.Dismiss()

	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// ProceedDetection handles POST /v1/sessions/{id}/proceed
func (h *Handler) ProceedDetection(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.sessionMgr.Controller(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	details, err := ctrl.Proceed(r.Context())
	if err != nil {
		status := sessionErrorStatus(err)
		if status == http.StatusInternalServerError {
			log.WithError(err).WithField("session", mux.Vars(r)["id"]).Error("Failed to hand off detection")
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, details)
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClientRequired):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrTooManyViews):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrNoResult):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
