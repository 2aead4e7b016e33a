package auth

import "tenantgov.org/internal/apperr"

var (
	ErrUnauthorized  = apperr.New(apperr.CodeUnauthorized, "auth: unauthorized")
	ErrTenantScope   = apperr.New(apperr.CodeUnauthorized, "auth: tenant mismatch")
	ErrInvalidToken  = apperr.New(apperr.CodeUnauthenticated, "auth: invalid token")
	ErrMissingSecret = apperr.New(apperr.CodeInvalidArgument, "auth: secret is not configured")
	ErrNoSecurity    = apperr.New(apperr.CodeUnauthenticated, "auth: no security context")
)
