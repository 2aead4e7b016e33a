package auth

import (
	"maps"
	"slices"
	"strings"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/tenant"
)

// AuthMethod records how the caller proved its identity.
type AuthMethod int

const (
	AuthMethodPassword AuthMethod = iota + 1
	AuthMethodToken
	AuthMethodAPIKey
	AuthMethodSystem
)

// ParseAuthMethod parses the claim value of an auth method.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "password":
		return AuthMethodPassword, nil
	case "token", "":
		return AuthMethodToken, nil
	case "api_key":
		return AuthMethodAPIKey, nil
	case "system":
		return AuthMethodSystem, nil
	default:
		return 0, apperr.InvalidArgument("unknown auth method " + s)
	}
}

func (m AuthMethod) String() string {
	switch m {
	case AuthMethodPassword:
		return "password"
	case AuthMethodToken:
		return "token"
	case AuthMethodAPIKey:
		return "api_key"
	case AuthMethodSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Params are the boundary facts a SecurityContext is built from.
type Params struct {
	TenantID      tenant.ID
	UserID        tenant.UserID
	Email         string
	Roles         []string
	Permissions   []string
	License       license.License
	AuthMethod    AuthMethod
	IP            string
	CorrelationID string
}

// SecurityContext is the immutable snapshot of who is calling, for which
// tenant, with which license and permissions. Build it once per request or job.
type SecurityContext struct {
	tenantID      tenant.ID
	userID        tenant.UserID
	email         string
	roles         map[string]struct{}
	permissions   map[string]struct{}
	license       license.License
	authMethod    AuthMethod
	ip            string
	correlationID string
}

// NewSecurityContext validates p and freezes it.
func NewSecurityContext(p Params) (SecurityContext, error) {
	if !p.TenantID.Valid() {
		return SecurityContext{}, apperr.InvalidArgument("security context tenant id must be positive")
	}
	if p.UserID.IsZero() {
		return SecurityContext{}, apperr.InvalidArgument("security context user id is required")
	}
	userID, err := tenant.ParseUserID(p.UserID.String())
	if err != nil {
		return SecurityContext{}, err
	}
	if p.License.TenantID() != p.TenantID {
		return SecurityContext{}, apperr.InvalidArgument("license belongs to another tenant")
	}
	if p.AuthMethod == 0 {
		p.AuthMethod = AuthMethodToken
	}
	if p.AuthMethod == AuthMethodSystem {
		return SecurityContext{}, apperr.InvalidArgument("use auth.System for system contexts")
	}
	perms := normalize(p.Permissions, false)
	delete(perms, Wildcard)
	return SecurityContext{
		tenantID:      p.TenantID,
		userID:        userID,
		email:         strings.TrimSpace(p.Email),
		roles:         normalize(p.Roles, true),
		permissions:   perms,
		license:       p.License,
		authMethod:    p.AuthMethod,
		ip:            strings.TrimSpace(p.IP),
		correlationID: strings.TrimSpace(p.CorrelationID),
	}, nil
}

// System builds the context for background jobs: wildcard permission and the
// system role, but the real tenant and license so quota and audit still apply.
func System(tenantID tenant.ID, lic license.License, correlationID string) (SecurityContext, error) {
	if !tenantID.Valid() {
		return SecurityContext{}, apperr.InvalidArgument("security context tenant id must be positive")
	}
	if lic.TenantID() != tenantID {
		return SecurityContext{}, apperr.InvalidArgument("license belongs to another tenant")
	}
	return SecurityContext{
		tenantID:      tenantID,
		roles:         map[string]struct{}{RoleSystem: {}},
		permissions:   map[string]struct{}{Wildcard: {}},
		license:       lic,
		authMethod:    AuthMethodSystem,
		correlationID: strings.TrimSpace(correlationID),
	}, nil
}

func (c SecurityContext) TenantID() tenant.ID           { return c.tenantID }
func (c SecurityContext) UserID() tenant.UserID         { return c.userID }
func (c SecurityContext) Email() string                 { return c.email }
func (c SecurityContext) License() license.License      { return c.license }
func (c SecurityContext) AuthMethod() AuthMethod        { return c.authMethod }
func (c SecurityContext) IP() string                    { return c.ip }
func (c SecurityContext) CorrelationID() string         { return c.correlationID }
func (c SecurityContext) IsSystem() bool                { return c.authMethod == AuthMethodSystem }
func (c SecurityContext) Roles() []string               { return slices.Sorted(maps.Keys(c.roles)) }
func (c SecurityContext) Permissions() []string         { return slices.Sorted(maps.Keys(c.permissions)) }
func (c SecurityContext) CanAccessModule(s string) bool { return c.license.CanAccessModule(s) }
func (c SecurityContext) HasFeature(key string) bool    { return c.license.HasFeature(key) }

// HasRole reports whether the caller holds role (case-insensitive).
func (c SecurityContext) HasRole(role string) bool {
	_, ok := c.roles[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// HasPermission reports whether the caller may perform the action key.
func (c SecurityContext) HasPermission(key string) bool {
	if _, ok := c.permissions[Wildcard]; ok {
		return true
	}
	_, ok := c.permissions[key]
	return ok
}

// AssertPermission fails with ErrUnauthorized when key is not granted.
func (c SecurityContext) AssertPermission(key string) error {
	if c.HasPermission(key) {
		return nil
	}
	return apperr.WithMetadata(apperr.CodeUnauthorized, "auth: missing permission "+key, map[string]string{
		"permission": key,
	})
}

// AssertTenant guards against object references that belong to another tenant.
func (c SecurityContext) AssertTenant(expected tenant.ID) error {
	if c.tenantID == expected && expected.Valid() {
		return nil
	}
	return ErrTenantScope
}

// WithCorrelationID returns a copy carrying id. The receiver is not modified.
func (c SecurityContext) WithCorrelationID(id string) SecurityContext {
	c.correlationID = strings.TrimSpace(id)
	return c
}

func normalize(items []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if lower {
			it = strings.ToLower(it)
		}
		if it == "" {
			continue
		}
		set[it] = struct{}{}
	}
	return set
}
