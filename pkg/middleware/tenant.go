// pkg/middleware/tenant.go
package middleware

import "context"

type ctxTenantKey struct{}

// WithTenantAlias records the verified tenant for downstream handlers.
func WithTenantAlias(ctx context.Context, alias string) context.Context {
	return context.WithValue(ctx, ctxTenantKey{}, alias)
}

// TenantAliasFrom returns the verified tenant, or "" outside an
// authenticated route.
func TenantAliasFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxTenantKey{}).(string); ok {
		return v
	}
	return ""
}
