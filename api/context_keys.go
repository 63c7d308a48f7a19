package api

import (
	"context"
	"time"

	"ara/core"
)

// contextKey is a private type to prevent context key collisions across packages.
// The authenticated principal itself is stored by the authz package.
type contextKey string

const (
	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyTraceStart stores the request start time (time.Time)
	ContextKeyTraceStart contextKey = "trace_start"

	// ContextKeyClaims stores the validated token claims (*Claims)
	ContextKeyClaims contextKey = "claims"

	// ContextKeyProject stores the project resolved from the {code} route variable (*core.Project)
	ContextKeyProject contextKey = "project"
)

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyRequestID).(string)
	return id, ok
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// GetTraceStart extracts the request start time from the context.
func GetTraceStart(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(ContextKeyTraceStart).(time.Time)
	return start, ok
}

// WithTraceStart returns a new context with the request start time set.
func WithTraceStart(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyTraceStart, start)
}

// GetClaims extracts the token claims from the context.
// They are absent when authentication is disabled.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*Claims)
	return claims, ok && claims != nil
}

// WithClaims returns a new context with the token claims set.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// GetProject extracts the project resolved by the project access middleware.
func GetProject(ctx context.Context) (*core.Project, bool) {
	project, ok := ctx.Value(ContextKeyProject).(*core.Project)
	return project, ok && project != nil
}

// WithProject returns a new context with the project set.
func WithProject(ctx context.Context, project *core.Project) context.Context {
	return context.WithValue(ctx, ContextKeyProject, project)
}
