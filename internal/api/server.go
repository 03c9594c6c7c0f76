package api

import (
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/bottle-rewards/internal/ratelimit"
	"github.com/shehryarbajwa/bottle-rewards/internal/stream"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(detailsHandler *DetailsHandler, recordsHandler *RecordsHandler, streamServer *stream.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", recordsHandler.Health).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Creating views and starting detections hit the camera, so they are rate limited
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, h.rateLimitKey))

	rateLimitedAPI.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	rateLimitedAPI.HandleFunc("/sessions/{id}/start", h.StartDetection).Methods("POST")

	// Session endpoints
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/dismiss", h.DismissDetection).Methods("POST")
	api.HandleFunc("/sessions/{id}/proceed", h.ProceedDetection).Methods("POST")
	api.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		streamServer.HandleSessionStream(w, r, mux.Vars(r)["id"])
	}).Methods("GET")

	// Details endpoints
	api.HandleFunc("/details/{id}", detailsHandler.GetDetails).Methods("GET")
	api.HandleFunc("/details/{id}", detailsHandler.DeleteDetails).Methods("DELETE")
	api.HandleFunc("/details/{id}/image", detailsHandler.GetDetailsImage).Methods("GET")

	// Records endpoints
	api.HandleFunc("/records", recordsHandler.GetRecords).Methods("GET")

	// Preflight requests are answered by corsMiddleware
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	return r
}

// rateLimitKey limits by the caller's client ID, falling back to the client
// that owns the session in the path
func (h *Handler) rateLimitKey(r *http.Request) string {
	if clientID := getClientID(r); clientID != "" {
		return clientID
	}
	if id := mux.Vars(r)["id"]; id != "" {
		if clientID, err := h.sessionMgr.ClientID(id); err == nil {
			return clientID
		}
	}
	return ""
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request at debug level
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}
