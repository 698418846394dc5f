package middleware

import (
	"net/http"
	"strings"
)

const (
	previewPrefix = "https://lp-monitor-frontend-"
	previewSuffix = "-dummysuis-projects.vercel.app"
)

// CORS answers for a comma-separated list of origins ("*" for any) plus the
// frontend's Vercel preview deployments. Origins outside the list get no
// Access-Control-Allow-Origin header at all.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := splitOrigins(origins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if reqOrigin := r.Header.Get("Origin"); reqOrigin != "" && isAllowed(reqOrigin, allowed) {
				h.Set("Access-Control-Allow-Origin", reqOrigin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func isAllowed(reqOrigin string, allowed []string) bool {
	for _, o := range allowed {
		if o == "*" || o == reqOrigin {
			return true
		}
	}
	return strings.HasPrefix(reqOrigin, previewPrefix) && strings.HasSuffix(reqOrigin, previewSuffix)
}
