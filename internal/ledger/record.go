package ledger

import (
	"time"

	"tenantgov.org/internal/retention"
	"tenantgov.org/internal/tenant"
)

// Record is a business fact that can be appended to a tenant chain.
// HashPayload must be a deterministic rendering of business fields only.
type Record interface {
	EntryID() string
	TenantID() tenant.ID
	HashPayload() string
	CreatedAtUTC() time.Time
	EntryType() string
}

// Retained is implemented by records subject to a retention category.
type Retained interface {
	RetentionCategory() retention.Category
}

// RetainUntil returns the earliest deletion time of rec, if it carries a category.
func RetainUntil(rec Record) (time.Time, bool) {
	r, ok := rec.(Retained)
	if !ok {
		return time.Time{}, false
	}
	return r.RetentionCategory().RetainUntil(rec.CreatedAtUTC()), true
}

// Event is a plain Record used by tools and tests.
type Event struct {
	ID        string
	Tenant    tenant.ID
	Type      string
	Payload   string
	At        time.Time
	Retention retention.Category
}

func (e Event) EntryID() string         { return e.ID }
func (e Event) TenantID() tenant.ID     { return e.Tenant }
func (e Event) HashPayload() string     { return e.Payload }
func (e Event) CreatedAtUTC() time.Time { return e.At.UTC() }
func (e Event) EntryType() string       { return e.Type }

func (e Event) RetentionCategory() retention.Category {
	if e.Retention == 0 {
		return retention.Audit
	}
	return e.Retention
}
