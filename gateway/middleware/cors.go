package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig controls the cross-origin policy on the exports surface. Zero
// values fall back to a permissive read-mostly default suitable for internal
// dashboards; production deployments pin AllowedOrigins.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

// CORS answers preflight requests and stamps the response headers browser
// clients need to read the CSV checksum and pagination cursor.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origin := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origin = cfg.AllowedOrigins[0]
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, OPTIONS"
	}
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Content-Type, Authorization"
	}
	credentials := "false"
	if cfg.AllowCredentials {
		credentials = "true"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Allow-Credentials", credentials)
			h.Set("Access-Control-Expose-Headers", "X-Checksum-Sha256, X-Next-Cursor")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
