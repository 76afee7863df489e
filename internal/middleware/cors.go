package middleware

import "net/http"

// CORSMiddleware sets Cross-Origin Resource Sharing headers so browser
// dashboards on other origins can reach the API.
type CORSMiddleware struct {
	origins map[string]bool
}

// NewCORSMiddleware creates a CORS middleware restricted to the given
// origins. With no origins, every origin is allowed.
func NewCORSMiddleware(allowedOrigins ...string) *CORSMiddleware {
	m := &CORSMiddleware{}
	if len(allowedOrigins) > 0 {
		m.origins = make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			m.origins[o] = true
		}
	}
	return m
}

// Wrap wraps an http.Handler with CORS headers and preflight handling
func (c *CORSMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && c.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *CORSMiddleware) allows(origin string) bool {
	if c.origins == nil {
		return true
	}
	return c.origins[origin] || c.origins["*"]
}
