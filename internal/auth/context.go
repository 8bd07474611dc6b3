package auth

import "context"

type sessionContextKey struct{}
type tokenContextKey struct{}

// ContextWithSession attaches the authenticated session to the context.
func ContextWithSession(ctx context.Context, info SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &info)
}

// SessionFromContext extracts the authenticated session from the context.
func SessionFromContext(ctx context.Context) (SessionInfo, bool) {
	if ctx == nil {
		return SessionInfo{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*SessionInfo)
	if !ok || v == nil {
		return SessionInfo{}, false
	}
	return *v, true
}

// AccountIDFromContext returns the account id of the authenticated session.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	info, ok := SessionFromContext(ctx)
	if !ok {
		return 0, false
	}
	return info.ID, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
