package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxTraceID   contextKey = "trace_id"
	ctxActorHash contextKey = "actor_token_hash"
	ctxRole      contextKey = "actor_role"
	ctxTenantID  contextKey = "tenant_id"
)

const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

func valueFrom[T any](ctx context.Context, key contextKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func TraceIDFromContext(ctx context.Context) string {
	v, _ := valueFrom[string](ctx, ctxTraceID)
	return v
}

// ActorHashFromContext returns the keyed hash of the caller's bearer token,
// never the token itself.
func ActorHashFromContext(ctx context.Context) string {
	v, _ := valueFrom[string](ctx, ctxActorHash)
	return v
}

func RoleFromContext(ctx context.Context) string {
	v, _ := valueFrom[string](ctx, ctxRole)
	return v
}

// TenantIDFromContext returns the tenant admitted by ServiceAuth.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return valueFrom[uuid.UUID](ctx, ctxTenantID)
}

func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(orBackground(ctx), ctxTenantID, tenantID)
}

// WithActor records who is calling. Handlers read it back for audit lines.
func WithActor(ctx context.Context, tokenHash, role string) context.Context {
	ctx = context.WithValue(orBackground(ctx), ctxActorHash, tokenHash)
	return context.WithValue(ctx, ctxRole, role)
}

func withTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(orBackground(ctx), ctxTraceID, traceID)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
