// Package scope carries tenant identity through context.Context.
//
// Producers attach the tenant at submission time; workers restore it
// before running a handler so downstream code (mailers, file stores)
// sees the same tenant the job was enqueued under.
package scope

import "context"

type ctxKey struct{}

// Capture extracts the tenant ID from the context. Returns the empty
// string if no tenant is attached.
func Capture(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Restore attaches a tenant ID to the context. An empty tenant ID is a
// no-op.
func Restore(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tenantID)
}
