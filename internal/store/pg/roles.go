package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/ids"
	"tenantgov.org/internal/tenant"
)

// RoleStore keeps per-tenant roles and their permission grants.
type RoleStore struct {
	db *sql.DB
}

var _ auth.PermissionResolver = (*RoleStore)(nil)

func NewRoleStore(db *sql.DB) *RoleStore { return &RoleStore{db: db} }

// PermissionsForRoles returns the distinct permission keys granted to roles within tenantID.
func (s *RoleStore) PermissionsForRoles(ctx context.Context, tenantID tenant.ID, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := []any{tenantID.Int64()}
	placeholders := make([]string, 0, len(roles))
	for _, r := range roles {
		args = append(args, strings.ToLower(strings.TrimSpace(r)))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.key
		from roles r
		join role_permissions rp on rp.role_id = r.id
		join permissions p on p.id = rp.permission_id
		where r.tenant_id = $1 and r.name in (`+strings.Join(placeholders, ", ")+`)
		order by p.key
	`, args...)
	if err != nil {
		return nil, mapError("roles: permissions", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, mapError("roles: scan", err)
		}
		perms = append(perms, key)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("roles: permissions", err)
	}
	return perms, nil
}

// EnsurePermissions upserts the permission catalog.
func (s *RoleStore) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, key, description)
			values ($1, $2, $3)
			on conflict (key) do update set description = excluded.description
		`, ids.New(), p.Key, p.Description); err != nil {
			return mapError("roles: ensure permission", err)
		}
	}
	return nil
}

// CreateRole adds a named role to a tenant and returns its id.
func (s *RoleStore) CreateRole(ctx context.Context, tenantID tenant.ID, name, description string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", apperr.InvalidArgument("role name is required")
	}
	if name == auth.RoleSystem {
		return "", apperr.InvalidArgument("role name is reserved")
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, tenant_id, name, description)
		values ($1, $2, $3, $4)
		returning id
	`, ids.New(), tenantID.Int64(), name, description).Scan(&id)
	if err != nil {
		return "", mapError("roles: create", err)
	}
	return id, nil
}

// SetRolePermissions replaces the grants of a role.
func (s *RoleStore) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("roles: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.CodeNotFound, "role "+roleID+" not found")
		}
		return mapError("roles: lookup", err)
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return mapError("roles: clear grants", err)
	}
	for _, key := range permissionKeys {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where key = $1`, key).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.CodeNotFound, "permission "+key+" not found")
			}
			return mapError("roles: lookup permission", err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return mapError("roles: grant", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError("roles: commit", err)
	}
	return nil
}
