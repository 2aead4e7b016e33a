package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/tenant"
)

// Entry is one immutable link of a tenant's hash chain.
type Entry struct {
	tenantID     tenant.ID
	sequence     int64
	entryHash    string
	previousHash string
	createdAt    time.Time
}

// NewEntry validates and builds an entry.
func NewEntry(tenantID tenant.ID, sequence int64, entryHash, previousHash string, createdAt time.Time) (Entry, error) {
	if !tenantID.Valid() {
		return Entry{}, apperr.InvalidArgument("chain entry tenant id must be positive")
	}
	if sequence < 1 {
		return Entry{}, apperr.InvalidArgument("chain entry sequence must be at least 1")
	}
	if !IsHash(entryHash) {
		return Entry{}, apperr.InvalidArgument("chain entry hash must be 64 lower-case hex characters")
	}
	if sequence == 1 {
		if previousHash != ZeroHash && !IsHash(previousHash) {
			return Entry{}, apperr.InvalidArgument("genesis previous hash must be a hash or the zero hash")
		}
	} else if !IsHash(previousHash) {
		return Entry{}, apperr.InvalidArgument("chain entry previous hash must be 64 lower-case hex characters")
	}
	return Entry{
		tenantID:     tenantID,
		sequence:     sequence,
		entryHash:    entryHash,
		previousHash: previousHash,
		createdAt:    createdAt.UTC(),
	}, nil
}

// Genesis builds the first entry of a chain.
func Genesis(tenantID tenant.ID, entryHash string, createdAt time.Time) (Entry, error) {
	return NewEntry(tenantID, 1, entryHash, ZeroHash, createdAt)
}

// Seal hashes payload onto tail and returns the next entry. A nil tail starts the chain.
func Seal(tenantID tenant.ID, tail *Entry, payload string, createdAt time.Time) (Entry, error) {
	createdAt = createdAt.UTC().Truncate(time.Second)
	if tail == nil {
		return Genesis(tenantID, ComputeHash(ZeroHash, payload, createdAt), createdAt)
	}
	if tail.tenantID != tenantID {
		return Entry{}, apperr.InvalidArgument("chain tail belongs to another tenant")
	}
	hash := ComputeHash(tail.entryHash, payload, createdAt)
	return NewEntry(tenantID, tail.sequence+1, hash, tail.entryHash, createdAt)
}

func (e Entry) TenantID() tenant.ID  { return e.tenantID }
func (e Entry) Sequence() int64      { return e.sequence }
func (e Entry) EntryHash() string    { return e.entryHash }
func (e Entry) PreviousHash() string { return e.previousHash }
func (e Entry) CreatedAt() time.Time { return e.createdAt }
func (e Entry) IsGenesis() bool      { return e.sequence == 1 }
func (e Entry) IsZero() bool         { return e.sequence == 0 }

// Verify recomputes the hash from the stored previous hash and compares in constant time.
func (e Entry) Verify(payload string, ts time.Time) bool {
	return hashEqual(ComputeHash(e.previousHash, payload, ts), e.entryHash)
}

// ToMap returns the array form of the entry.
func (e Entry) ToMap() map[string]any {
	return map[string]any{
		"tenant_id":       e.tenantID.Int64(),
		"sequence_number": e.sequence,
		"entry_hash":      e.entryHash,
		"previous_hash":   e.previousHash,
		"created_at":      FormatTimestamp(e.createdAt),
	}
}

// EntryFromMap rebuilds an entry from its array form, validating it again.
// Numbers may arrive as any Go integer, float64, json.Number or string.
func EntryFromMap(m map[string]any) (Entry, error) {
	tid, err := intField(m, "tenant_id")
	if err != nil {
		return Entry{}, err
	}
	seq, err := intField(m, "sequence_number")
	if err != nil {
		return Entry{}, err
	}
	entryHash, _ := m["entry_hash"].(string)
	previousHash, _ := m["previous_hash"].(string)
	var createdAt time.Time
	switch v := m["created_at"].(type) {
	case time.Time:
		createdAt = v
	case string:
		createdAt, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return Entry{}, apperr.InvalidArgument("created_at must be ISO-8601")
		}
	default:
		return Entry{}, apperr.InvalidArgument("created_at is required")
	}
	return NewEntry(tenant.ID(tid), seq, entryHash, previousHash, createdAt)
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	v, err := EntryFromMap(m)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func intField(m map[string]any, key string) (int64, error) {
	switch v := m[key].(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, apperr.InvalidArgument(key + " must be an integer")
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, apperr.InvalidArgument(key + " must be an integer")
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, apperr.InvalidArgument(key + " must be an integer")
		}
		return n, nil
	case nil:
		return 0, apperr.InvalidArgument(key + " is required")
	default:
		return 0, apperr.InvalidArgument(fmt.Sprintf("%s has unsupported type %T", key, v))
	}
}
