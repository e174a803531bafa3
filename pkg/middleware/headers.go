package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeaders returns the response headers set on every gateway reply.
// frameSrc, when non-empty, is appended to the CSP as a frame-src directive.
func SecurityHeaders(frameSrc []string) http.Header {
	csp := []string{"default-src https:"}
	if len(frameSrc) > 0 {
		csp = append(csp, "frame-src "+strings.Join(frameSrc, " "))
	}
	h := http.Header{}
	h.Set("Content-Security-Policy", strings.Join(csp, "; "))
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer-when-downgrade")
	h.Set("Feature-Policy", "none")
	return h
}

func WithSecurityHeaders(frameSrc []string) func(http.Handler) http.Handler {
	headers := SecurityHeaders(frameSrc)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, vs := range headers {
				w.Header()[k] = append([]string(nil), vs...)
			}
			next.ServeHTTP(w, r)
		})
	}
}
