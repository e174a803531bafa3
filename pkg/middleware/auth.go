// pkg/middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"integrationgw/pkg/authtoken"
	"integrationgw/pkg/problems"
)

// BearerToken returns the credential of a "Bearer" Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	return tok, tok != ""
}

// AccessKeyAuth admits requests bearing an access key signed with
// clientSecret and places its tenant alias in the request context.
func AccessKeyAuth(clientSecret string, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				problems.Unauthorized(w, "missing bearer")
				return
			}
			claims, reason := authtoken.ParseAccessKey(clientSecret, raw)
			if reason != "" {
				log.Debugw("access key rejected", "reason", reason, "request_id", RequestIDFrom(r.Context()))
				problems.Unauthorized(w, reason.String())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenantAlias(r.Context(), claims.TenantAlias)))
		})
	}
}
