// Package api exposes the assistant over HTTP.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront-assistant/internal/common/logger"
)

// Routes builds the service mux. Admin routes require adminToken as a bearer
// token when one is configured.
func Routes(h *Handler, adminToken string, log logger.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := requireToken(adminToken)

	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/ai/recommend", h.HandleRecommend)
	mux.HandleFunc("GET /api/health/llm-keys", h.HandleKeyHealth)

	mux.Handle("PUT /api/admin/providers/{provider}/keys", admin(http.HandlerFunc(h.HandleUpdateKeys)))
	mux.Handle("POST /api/admin/cache/invalidate", admin(http.HandlerFunc(h.HandleInvalidateCache)))

	reqLog := log.With(map[string]interface{}{"component": "http"})
	var handler http.Handler = mux
	handler = withCORS(handler)
	handler = withRecovery(reqLog, handler)
	handler = withLogging(reqLog, handler)
	handler = withRequestID(handler)
	return handler
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid or missing admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
