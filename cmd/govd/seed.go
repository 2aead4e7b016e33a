package main

import (
	"fmt"

	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/config"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/tenant"
)

// devRoles are the role grants honoured by the in-memory stores.
var devRoles = auth.StaticPermissions{
	"admin":   {auth.PermChainAppend, auth.PermIntegrityVerify, auth.PermQuotaRead},
	"writer":  {auth.PermChainAppend},
	"auditor": {auth.PermIntegrityVerify, auth.PermQuotaRead},
}

// seedDev provisions every configured dev tenant with an active license on
// the dev plan. It returns the provisioned tenants.
func seedDev(cfg config.Config, resolver *license.MemoryResolver) ([]tenant.ID, error) {
	if len(cfg.DevTenants) == 0 {
		return nil, nil
	}
	plan, err := license.NewPlan(license.PlanDefinition{
		ID:      cfg.DevPlan,
		Name:    "Development",
		Version: 1,
		Modules: cfg.DevModules,
		Quotas:  cfg.DevQuotas,
	})
	if err != nil {
		return nil, fmt.Errorf("dev plan: %w", err)
	}
	out := make([]tenant.ID, 0, len(cfg.DevTenants))
	for _, raw := range cfg.DevTenants {
		id, err := tenant.NewID(raw)
		if err != nil {
			return nil, fmt.Errorf("dev tenant %d: %w", raw, err)
		}
		lic, err := license.New(id, plan, license.StatusActive, nil)
		if err != nil {
			return nil, fmt.Errorf("dev license %d: %w", raw, err)
		}
		resolver.PutLicense(lic)
		out = append(out, id)
	}
	return out, nil
}
