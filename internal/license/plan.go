package license

import (
	"maps"
	"slices"
	"strings"

	"tenantgov.org/internal/apperr"
)

// Unlimited marks a quota or seat count without a ceiling.
const Unlimited int64 = -1

// PlanDefinition is the catalog row a Plan is built from.
type PlanDefinition struct {
	ID           string
	Name         string
	Version      int
	Modules      []string
	Features     []string
	Quotas       map[string]int64
	Integrations []string
	MaxSeats     int64
}

// Plan is an immutable catalog entry. Changing entitlements means publishing a new version.
type Plan struct {
	id           string
	name         string
	version      int
	modules      map[string]struct{}
	features     map[string]struct{}
	quotas       map[string]int64
	integrations map[string]struct{}
	maxSeats     int64
}

// NewPlan validates a definition and freezes it.
func NewPlan(def PlanDefinition) (Plan, error) {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return Plan{}, apperr.InvalidArgument("plan id is required")
	}
	if def.MaxSeats < Unlimited {
		return Plan{}, apperr.InvalidArgument("plan max seats must be -1 or greater")
	}
	quotas := make(map[string]int64, len(def.Quotas))
	for k, v := range def.Quotas {
		k = strings.TrimSpace(k)
		if k == "" {
			return Plan{}, apperr.InvalidArgument("plan quota key is required")
		}
		if v < Unlimited {
			return Plan{}, apperr.InvalidArgument("plan quota " + k + " must be -1 or greater")
		}
		quotas[k] = v
	}
	return Plan{
		id:           id,
		name:         strings.TrimSpace(def.Name),
		version:      def.Version,
		modules:      toSet(def.Modules),
		features:     toSet(def.Features),
		quotas:       quotas,
		integrations: toSet(def.Integrations),
		maxSeats:     def.MaxSeats,
	}, nil
}

func (p Plan) ID() string   { return p.id }
func (p Plan) Name() string { return p.name }
func (p Plan) Version() int { return p.version }

func (p Plan) MaxSeats() int64 { return p.maxSeats }

func (p Plan) IncludesModule(slug string) bool {
	_, ok := p.modules[slug]
	return ok
}

func (p Plan) IncludesFeature(key string) bool {
	_, ok := p.features[key]
	return ok
}

func (p Plan) AllowsIntegration(slug string) bool {
	_, ok := p.integrations[slug]
	return ok
}

// QuotaLimit returns the configured limit; unknown keys have a limit of 0.
func (p Plan) QuotaLimit(key string) int64 {
	return p.quotas[key]
}

// Modules returns the sorted module slugs.
func (p Plan) Modules() []string { return sortedKeys(p.modules) }

// Features returns the sorted feature flags.
func (p Plan) Features() []string { return sortedKeys(p.features) }

// Integrations returns the sorted integration slugs.
func (p Plan) Integrations() []string { return sortedKeys(p.integrations) }

// Quotas returns a copy of the quota map.
func (p Plan) Quotas() map[string]int64 { return maps.Clone(p.quotas) }

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		set[it] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}
