package auth

import (
	"context"
	"strings"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/tenant"
)

// PermissionResolver expands role names into permission keys for a tenant.
type PermissionResolver interface {
	PermissionsForRoles(ctx context.Context, tenantID tenant.ID, roles []string) ([]string, error)
}

// StaticPermissions maps role names to permission keys for every tenant.
type StaticPermissions map[string][]string

func (s StaticPermissions) PermissionsForRoles(ctx context.Context, tenantID tenant.ID, roles []string) ([]string, error) {
	var out []string
	for _, r := range roles {
		out = append(out, s[strings.ToLower(r)]...)
	}
	return out, nil
}

// Credentials are the raw boundary inputs of one request.
type Credentials struct {
	Token         string
	IP            string
	CorrelationID string
}

// Authenticator builds the SecurityContext of a request from its bearer token.
type Authenticator struct {
	tokens   *Tokens
	licenses license.Source
	perms    PermissionResolver
}

// NewAuthenticator wires the token codec with the license and permission ports.
func NewAuthenticator(tokens *Tokens, licenses license.Source, perms PermissionResolver) *Authenticator {
	return &Authenticator{tokens: tokens, licenses: licenses, perms: perms}
}

// Authenticate verifies the token and resolves license and permissions once.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credentials) (SecurityContext, error) {
	if a == nil || a.tokens == nil {
		return SecurityContext{}, ErrInvalidToken
	}
	id, err := a.tokens.Parse(cred.Token)
	if err != nil {
		return SecurityContext{}, err
	}
	lic, err := a.licenses.License(ctx, id.TenantID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return SecurityContext{}, apperr.Wrap(apperr.CodeUnauthorized, "auth: tenant has no license", err)
		}
		return SecurityContext{}, apperr.Unavailable("auth: resolve license", err)
	}
	var perms []string
	if a.perms != nil && len(id.Roles) > 0 {
		perms, err = a.perms.PermissionsForRoles(ctx, id.TenantID, id.Roles)
		if err != nil {
			return SecurityContext{}, apperr.Unavailable("auth: resolve permissions", err)
		}
	}
	return NewSecurityContext(Params{
		TenantID:      id.TenantID,
		UserID:        id.UserID,
		Email:         id.Email,
		Roles:         id.Roles,
		Permissions:   perms,
		License:       lic,
		AuthMethod:    id.AuthMethod,
		IP:            cred.IP,
		CorrelationID: cred.CorrelationID,
	})
}
