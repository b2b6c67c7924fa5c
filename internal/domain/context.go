package domain

import "context"

type ctxKey string

const sessionCtxKey ctxKey = "session_id"

// ContextWithSessionID returns a new context carrying the session ID (ULID).
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionCtxKey).(string); ok {
		return v
	}
	return ""
}

const specialistCtxKey ctxKey = "specialist"

// ContextWithSpecialist records which specialist is executing, so tools can
// attribute the records they write.
func ContextWithSpecialist(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, specialistCtxKey, name)
}

// SpecialistFromContext returns the executing specialist, or empty string.
func SpecialistFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(specialistCtxKey).(string); ok {
		return v
	}
	return ""
}
