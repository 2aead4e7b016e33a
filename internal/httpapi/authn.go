package httpapi

import (
	"net/http"
	"strings"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/audit"
	"tenantgov.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}

// withAuth builds the SecurityContext once per request; handlers read it from the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		sc, err := a.auth.Authenticate(r.Context(), auth.Credentials{
			Token:         token,
			IP:            clientIP(r),
			CorrelationID: audit.RequestIDFromContext(r.Context()),
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		ctx := auth.ContextWithSecurity(r.Context(), sc)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperr.New(apperr.CodeUnauthenticated, "missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", apperr.New(apperr.CodeUnauthenticated, "invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", apperr.New(apperr.CodeUnauthenticated, "missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
