package auth

import (
	"net/http"
	"strings"
)

// Middleware is a chi-compatible HTTP middleware enforcing bearer-token
// auth on the RPC surface. Every request must carry a valid
// "Authorization: Bearer <token>" header; anything else is rejected with
// a 401 JSON response (there is no browser session to redirect to).
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isAuthenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})
}

func (m *Manager) isAuthenticated(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	return m.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
}
