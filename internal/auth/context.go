package auth

import "context"

type securityContextKey struct{}
type tokenContextKey struct{}

// ContextWithSecurity attaches the caller's security snapshot to ctx.
func ContextWithSecurity(ctx context.Context, sc SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, &sc)
}

// SecurityFromContext extracts the security snapshot attached at the boundary.
func SecurityFromContext(ctx context.Context) (SecurityContext, bool) {
	if ctx == nil {
		return SecurityContext{}, false
	}
	v, ok := ctx.Value(securityContextKey{}).(*SecurityContext)
	if !ok || v == nil {
		return SecurityContext{}, false
	}
	return *v, true
}

// RequireSecurity is SecurityFromContext returning ErrNoSecurity when absent.
func RequireSecurity(ctx context.Context) (SecurityContext, error) {
	sc, ok := SecurityFromContext(ctx)
	if !ok {
		return SecurityContext{}, ErrNoSecurity
	}
	return sc, nil
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
