package api

import (
	"net/http"
	"strconv"

	"github.com/apex/log"

	"github.com/shehryarbajwa/bottle-rewards/internal/ratelimit"
)

// KeyFunc picks the rate limit key of a request; empty skips limiting
type KeyFunc func(r *http.Request) string

// RateLimitMiddleware creates a middleware that enforces per-client rate limits
func RateLimitMiddleware(limiter *ratelimit.Limiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := keyFunc(r)

			if clientID == "" {
				next.ServeHTTP(w, r)
				return
			}

			limit := strconv.Itoa(limiter.PerHour())

			if !limiter.Allow(clientID) {
				log.WithFields(log.Fields{
					"client": clientID,
					"path":   r.URL.Path,
				}).Warn("Rate limit exceeded")

				w.Header().Set("X-RateLimit-Limit", limit)
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, http.StatusTooManyRequests,
					"Rate limit exceeded. Maximum "+limit+" requests per hour per client.")
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens(clientID))))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID extracts the client ID from the request
func getClientID(r *http.Request) string {
	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		return clientID
	}
	return r.Header.Get("X-Client-ID")
}
