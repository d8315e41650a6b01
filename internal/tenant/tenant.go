// Package tenant threads tenant, actor, and trace identity through an
// explicit context.Context value, replacing the ambient async-context
// correlation the source relied on (see DESIGN.md's REDESIGN FLAGS entry).
package tenant

import "context"

type ctxKey string

const (
	keyTenantID ctxKey = "tenant_id"
	keyActorID  ctxKey = "actor_id"
	keyTraceID  ctxKey = "trace_id"
)

// WithTenantID returns a context carrying the given tenant id.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID returns the tenant id carried by ctx, if any.
func TenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTenantID).(string)
	return v, ok && v != ""
}

// WithActorID returns a context carrying the given actor id.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, keyActorID, actorID)
}

// ActorID returns the actor id carried by ctx, if any.
func ActorID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyActorID).(string)
	return v, ok && v != ""
}

// WithTraceID returns a context carrying the given trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID returns the trace id carried by ctx, if any.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}
