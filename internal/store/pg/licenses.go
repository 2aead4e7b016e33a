package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/tenant"
)

// DefaultPlanCacheTTL bounds how stale a cached plan may be.
const DefaultPlanCacheTTL = time.Minute

// LicenseStore resolves licenses, plans and quota usage from Postgres.
type LicenseStore struct {
	db      *sql.DB
	catalog *license.Catalog
}

var (
	_ license.AtomicResolver = (*LicenseStore)(nil)
	_ license.Source         = (*LicenseStore)(nil)
	_ license.PlanSource     = (*LicenseStore)(nil)
)

// NewLicenseStore caches plans for planTTL; zero uses DefaultPlanCacheTTL.
func NewLicenseStore(db *sql.DB, planTTL time.Duration) *LicenseStore {
	if planTTL <= 0 {
		planTTL = DefaultPlanCacheTTL
	}
	return &LicenseStore{db: db, catalog: license.NewCatalog(planLoader{db: db}, planTTL)}
}

func (s *LicenseStore) License(ctx context.Context, tenantID tenant.ID) (license.License, error) {
	var (
		planID    string
		rawStatus string
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select plan_id, status, expires_at
		from tenant_licenses
		where tenant_id = $1
	`, tenantID.Int64()).Scan(&planID, &rawStatus, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return license.License{}, apperr.New(apperr.CodeNotFound, "license not found for tenant "+tenantID.String())
	}
	if err != nil {
		return license.License{}, mapError("licenses: load", err)
	}
	status, err := license.ParseStatus(rawStatus)
	if err != nil {
		return license.License{}, err
	}
	plan, err := s.catalog.Plan(ctx, planID)
	if err != nil {
		return license.License{}, err
	}
	var exp *time.Time
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		exp = &t
	}
	return license.New(tenantID, plan, status, exp)
}

func (s *LicenseStore) Plan(ctx context.Context, planID string) (license.Plan, error) {
	return s.catalog.Plan(ctx, planID)
}

// PutPlan publishes or replaces a plan definition.
func (s *LicenseStore) PutPlan(ctx context.Context, def license.PlanDefinition) error {
	plan, err := license.NewPlan(def)
	if err != nil {
		return err
	}
	modules, _ := json.Marshal(plan.Modules())
	features, _ := json.Marshal(plan.Features())
	integrations, _ := json.Marshal(plan.Integrations())
	quotas, _ := json.Marshal(plan.Quotas())
	if _, err := s.db.ExecContext(ctx, `
		insert into plans (id, name, version, max_seats, modules, features, integrations, quotas, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
		on conflict (id) do update set
			name = excluded.name,
			version = excluded.version,
			max_seats = excluded.max_seats,
			modules = excluded.modules,
			features = excluded.features,
			integrations = excluded.integrations,
			quotas = excluded.quotas,
			updated_at = now()
	`, plan.ID(), plan.Name(), plan.Version(), plan.MaxSeats(), modules, features, integrations, quotas); err != nil {
		return mapError("licenses: put plan", err)
	}
	s.catalog.Invalidate(plan.ID())
	return nil
}

// PutLicense assigns a plan to a tenant and provisions its quota limits from
// the plan. Usage counters survive plan changes.
func (s *LicenseStore) PutLicense(ctx context.Context, tenantID tenant.ID, planID string, status license.Status, expiresAt *time.Time) error {
	if !tenantID.Valid() {
		return apperr.InvalidArgument("tenant id must be positive")
	}
	plan, err := s.catalog.Plan(ctx, planID)
	if err != nil {
		return err
	}
	var exp sql.NullTime
	if expiresAt != nil {
		exp = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("licenses: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into tenant_licenses (tenant_id, plan_id, status, expires_at, updated_at)
		values ($1, $2, $3, $4, now())
		on conflict (tenant_id) do update set
			plan_id = excluded.plan_id,
			status = excluded.status,
			expires_at = excluded.expires_at,
			updated_at = now()
	`, tenantID.Int64(), plan.ID(), status.String(), exp); err != nil {
		return mapError("licenses: put license", err)
	}
	quotas := plan.Quotas()
	for _, key := range slices.Sorted(maps.Keys(quotas)) {
		if _, err := tx.ExecContext(ctx, `
			insert into tenant_usage (tenant_id, quota_key, quota_limit, current, updated_at)
			values ($1, $2, $3, 0, now())
			on conflict (tenant_id, quota_key) do update set
				quota_limit = excluded.quota_limit,
				updated_at = now()
		`, tenantID.Int64(), key, quotas[key]); err != nil {
			return mapError("licenses: provision quota", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError("licenses: commit", err)
	}
	return nil
}

// CheckQuota reports usage. An unprovisioned key has limit 0 and admits nothing.
func (s *LicenseStore) CheckQuota(ctx context.Context, tenantID tenant.ID, key string) (license.UsageQuota, error) {
	q := license.UsageQuota{Key: key}
	err := s.db.QueryRowContext(ctx, `
		select quota_limit, current
		from tenant_usage
		where tenant_id = $1 and quota_key = $2
	`, tenantID.Int64(), key).Scan(&q.Limit, &q.Current)
	if errors.Is(err, sql.ErrNoRows) {
		return q, nil
	}
	if err != nil {
		return license.UsageQuota{}, mapError("licenses: check quota", err)
	}
	return q, nil
}

func (s *LicenseStore) TrackUsage(ctx context.Context, tenantID tenant.ID, key string, amount int64) error {
	res, err := s.db.ExecContext(ctx, `
		update tenant_usage
		set current = current + $3, updated_at = now()
		where tenant_id = $1 and quota_key = $2
	`, tenantID.Int64(), key, amount)
	if err != nil {
		return mapError("licenses: track usage", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return mapError("licenses: track usage", err)
	}
	if aff == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("quota %s is not provisioned for tenant %s", key, tenantID))
	}
	return nil
}

// ConsumeQuota checks and records usage in one conditional update so concurrent
// consumers can never overshoot the limit.
func (s *LicenseStore) ConsumeQuota(ctx context.Context, tenantID tenant.ID, key string, amount int64) (license.UsageQuota, bool, error) {
	q := license.UsageQuota{Key: key}
	err := s.db.QueryRowContext(ctx, `
		update tenant_usage
		set current = current + $3, updated_at = now()
		where tenant_id = $1 and quota_key = $2
		  and (quota_limit = -1 or (current <= quota_limit and $3 <= quota_limit - current))
		returning quota_limit, current
	`, tenantID.Int64(), key, amount).Scan(&q.Limit, &q.Current)
	if err == nil {
		return q, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return license.UsageQuota{}, false, mapError("licenses: consume quota", err)
	}
	q, err = s.CheckQuota(ctx, tenantID, key)
	if err != nil {
		return license.UsageQuota{}, false, err
	}
	return q, false, nil
}

// planLoader reads plan rows for the catalog.
type planLoader struct {
	db *sql.DB
}

func (l planLoader) Plan(ctx context.Context, planID string) (license.Plan, error) {
	var (
		def                                     license.PlanDefinition
		modules, features, integrations, quotas []byte
	)
	err := l.db.QueryRowContext(ctx, `
		select id, name, version, max_seats, modules, features, integrations, quotas
		from plans
		where id = $1
	`, planID).Scan(&def.ID, &def.Name, &def.Version, &def.MaxSeats, &modules, &features, &integrations, &quotas)
	if errors.Is(err, sql.ErrNoRows) {
		return license.Plan{}, apperr.New(apperr.CodeNotFound, "plan "+planID+" not found")
	}
	if err != nil {
		return license.Plan{}, mapError("licenses: load plan", err)
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{modules, &def.Modules},
		{features, &def.Features},
		{integrations, &def.Integrations},
		{quotas, &def.Quotas},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return license.Plan{}, fmt.Errorf("decode plan %s: %w", planID, err)
		}
	}
	return license.NewPlan(def)
}
