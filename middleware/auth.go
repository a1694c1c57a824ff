package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// AdminAuthMiddleware guards mutating routes with a static bearer token. The
// dashboard and CLI are trusted operators; there is no per-user identity here.
type AdminAuthMiddleware struct {
	adminAPIToken string
}

// NewAdminAuthMiddleware creates a new authentication middleware instance
func NewAdminAuthMiddleware(adminAPIToken string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{adminAPIToken: adminAPIToken}
}

// WithAuth wraps an HTTP handler with bearer-token authentication
func (m *AdminAuthMiddleware) WithAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Printf("❌ Missing Authorization header")
			m.writeErrorResponse(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Printf("❌ Invalid Authorization header format")
			m.writeErrorResponse(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			log.Printf("❌ Empty bearer token")
			m.writeErrorResponse(w, "empty bearer token", http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(m.adminAPIToken)) != 1 {
			log.Printf("❌ Invalid admin token from %s", r.RemoteAddr)
			m.writeErrorResponse(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// writeErrorResponse writes a standardized error response
func (m *AdminAuthMiddleware) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Printf("❌ Failed to encode error response: %v", err)
	}
}
