package httpapi

import (
	"net/http"
	"os"
	"strings"
)

// corsMiddleware answers cross-origin requests from the dashboard frontend.
// Origins come from CORS_ALLOWED_ORIGINS (comma separated); "*" allows all.
type corsMiddleware struct {
	origins  map[string]struct{}
	allowAll bool
}

func newCORSMiddleware(origins []string) *corsMiddleware {
	m := &corsMiddleware{origins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			m.allowAll = true
			continue
		}
		if origin != "" {
			m.origins[origin] = struct{}{}
		}
	}
	return m
}

func corsFromEnv() *corsMiddleware {
	raw := os.Getenv("CORS_ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}
	return newCORSMiddleware(strings.Split(raw, ","))
}

func (m *corsMiddleware) allowed(origin string) bool {
	if m.allowAll {
		return true
	}
	_, ok := m.origins[origin]
	return ok
}

func (m *corsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && m.allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
