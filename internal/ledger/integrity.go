package ledger

import (
	"encoding/json"
	"sort"
	"time"

	"tenantgov.org/internal/tenant"
)

// Failure reasons reported by chain verification.
const (
	ReasonHashMismatch         = "hash mismatch"
	ReasonMissingPredecessor   = "missing predecessor"
	ReasonPreviousHashMismatch = "previous hash mismatch"
	ReasonInvalidGenesis       = "invalid genesis"
	ReasonTenantMismatch       = "tenant mismatch"
	ReasonDuplicateSequence    = "duplicate sequence"
)

// FailedEntry names one broken link.
type FailedEntry struct {
	Sequence int64  `json:"sequence_number"`
	Reason   string `json:"reason"`
}

// IntegrityCheckResult is the outcome of verifying a tenant chain.
// Passed is derived from the failures and cannot disagree with them.
type IntegrityCheckResult struct {
	tenantID  tenant.ID
	checked   int
	failed    []FailedEntry
	checkedAt time.Time
}

// NewIntegrityCheckResult builds a result; Passed holds exactly when failed is empty.
func NewIntegrityCheckResult(checked int, failed []FailedEntry, checkedAt time.Time) IntegrityCheckResult {
	if checked < 0 {
		checked = 0
	}
	return IntegrityCheckResult{
		checked:   checked,
		failed:    append([]FailedEntry(nil), failed...),
		checkedAt: checkedAt.UTC(),
	}
}

func (r IntegrityCheckResult) Passed() bool         { return len(r.failed) == 0 }
func (r IntegrityCheckResult) CheckedEntries() int  { return r.checked }
func (r IntegrityCheckResult) CheckedAt() time.Time { return r.checkedAt }
func (r IntegrityCheckResult) TenantID() tenant.ID  { return r.tenantID }

// FailedEntries returns a copy of the failures in walk order.
func (r IntegrityCheckResult) FailedEntries() []FailedEntry {
	return append([]FailedEntry(nil), r.failed...)
}

type resultJSON struct {
	TenantID       int64         `json:"tenant_id,omitempty"`
	Passed         bool          `json:"passed"`
	CheckedEntries int           `json:"checked_entries"`
	FailedEntries  []FailedEntry `json:"failed_entries"`
	CheckedAt      time.Time     `json:"checked_at"`
}

func (r IntegrityCheckResult) MarshalJSON() ([]byte, error) {
	failed := r.failed
	if failed == nil {
		failed = []FailedEntry{}
	}
	return json.Marshal(resultJSON{
		TenantID:       r.tenantID.Int64(),
		Passed:         r.Passed(),
		CheckedEntries: r.checked,
		FailedEntries:  failed,
		CheckedAt:      r.checkedAt,
	})
}

// UnmarshalJSON ignores the encoded passed flag and derives it from the failures.
func (r *IntegrityCheckResult) UnmarshalJSON(b []byte) error {
	var v resultJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = NewIntegrityCheckResult(v.CheckedEntries, v.FailedEntries, v.CheckedAt)
	r.tenantID = tenant.ID(v.TenantID)
	return nil
}

// Link is a stored entry together with the canonical payload it was sealed over.
type Link struct {
	Entry   Entry
	Payload string
}

// VerifyChain checks every link of a tenant chain and reports all breaks.
// Links may arrive in any order; they are walked by sequence.
func VerifyChain(tenantID tenant.ID, links []Link, now time.Time) IntegrityCheckResult {
	sorted := append([]Link(nil), links...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Entry.Sequence() < sorted[j].Entry.Sequence()
	})
	w := newWalker(tenantID)
	for _, l := range sorted {
		w.step(l)
	}
	return w.result(now)
}

// walker carries the predecessor across pages.
type walker struct {
	tenantID tenant.ID
	prevSeq  int64
	prevHash string
	checked  int
	failed   []FailedEntry
}

func newWalker(tenantID tenant.ID) *walker {
	return &walker{tenantID: tenantID}
}

func (w *walker) fail(seq int64, reason string) {
	w.failed = append(w.failed, FailedEntry{Sequence: seq, Reason: reason})
}

func (w *walker) step(l Link) {
	e := l.Entry
	seq := e.Sequence()
	w.checked++
	if e.TenantID() != w.tenantID {
		w.fail(seq, ReasonTenantMismatch)
		return
	}
	if seq <= w.prevSeq {
		w.fail(seq, ReasonDuplicateSequence)
		return
	}

	basis := e.PreviousHash()
	switch {
	case seq == 1:
		if e.PreviousHash() != ZeroHash {
			w.fail(seq, ReasonInvalidGenesis)
		}
	case seq != w.prevSeq+1:
		w.fail(seq, ReasonMissingPredecessor)
	case !hashEqual(e.PreviousHash(), w.prevHash):
		w.fail(seq, ReasonPreviousHashMismatch)
	default:
		basis = w.prevHash
	}
	if !hashEqual(ComputeHash(basis, l.Payload, e.CreatedAt()), e.EntryHash()) {
		w.fail(seq, ReasonHashMismatch)
	}
	w.prevSeq = seq
	w.prevHash = e.EntryHash()
}

func (w *walker) result(now time.Time) IntegrityCheckResult {
	r := NewIntegrityCheckResult(w.checked, w.failed, now)
	r.tenantID = w.tenantID
	return r
}
