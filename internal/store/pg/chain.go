package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/ledger"
	"tenantgov.org/internal/tenant"
)

// ChainStore persists tenant hash chains in ledger_chain.
type ChainStore struct {
	db *sql.DB
}

var _ ledger.Store = (*ChainStore)(nil)

func NewChainStore(db *sql.DB) *ChainStore { return &ChainStore{db: db} }

// Append seals rec onto the tenant tail. A per-tenant advisory lock serializes
// concurrent appenders; the primary key rejects anything that slips through.
func (s *ChainStore) Append(ctx context.Context, rec ledger.Record) (ledger.Entry, error) {
	if rec == nil {
		return ledger.Entry{}, apperr.InvalidArgument("record is required")
	}
	tid := rec.TenantID()
	if !tid.Valid() {
		return ledger.Entry{}, apperr.InvalidArgument("record tenant id must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, mapError("chain: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, tid.Int64()); err != nil {
		return ledger.Entry{}, mapError("chain: lock", err)
	}

	if id := rec.EntryID(); id != "" {
		existing, err := scanEntry(tid, tx.QueryRowContext(ctx, `
			select sequence_number, entry_hash, previous_hash, created_at
			from ledger_chain
			where tenant_id = $1 and entry_id = $2
		`, tid.Int64(), id))
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, mapError("chain: lookup entry", err)
		}
	}

	var tail *ledger.Entry
	last, err := scanEntry(tid, tx.QueryRowContext(ctx, `
		select sequence_number, entry_hash, previous_hash, created_at
		from ledger_chain
		where tenant_id = $1
		order by sequence_number desc
		limit 1
	`, tid.Int64()))
	switch {
	case err == nil:
		tail = &last
	case errors.Is(err, sql.ErrNoRows):
	default:
		return ledger.Entry{}, mapError("chain: read tail", err)
	}

	entry, err := ledger.Seal(tid, tail, rec.HashPayload(), rec.CreatedAtUTC())
	if err != nil {
		return ledger.Entry{}, err
	}
	var retainUntil sql.NullTime
	if until, ok := ledger.RetainUntil(rec); ok {
		retainUntil = sql.NullTime{Time: until, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into ledger_chain (tenant_id, sequence_number, entry_hash, previous_hash, payload, entry_id, entry_type, created_at, retain_until)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tid.Int64(), entry.Sequence(), entry.EntryHash(), entry.PreviousHash(), rec.HashPayload(),
		rec.EntryID(), rec.EntryType(), entry.CreatedAt(), retainUntil); err != nil {
		return ledger.Entry{}, mapError("chain: insert", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, mapError("chain: commit", err)
	}
	return entry, nil
}

func (s *ChainStore) Tail(ctx context.Context, tenantID tenant.ID) (ledger.Entry, bool, error) {
	e, err := scanEntry(tenantID, s.db.QueryRowContext(ctx, `
		select sequence_number, entry_hash, previous_hash, created_at
		from ledger_chain
		where tenant_id = $1
		order by sequence_number desc
		limit 1
	`, tenantID.Int64()))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, mapError("chain: tail", err)
	}
	return e, true, nil
}

func (s *ChainStore) Links(ctx context.Context, tenantID tenant.ID, afterSeq int64, limit int) ([]ledger.Link, error) {
	limit = ledger.ClampPage(limit)
	rows, err := s.db.QueryContext(ctx, `
		select sequence_number, entry_hash, previous_hash, created_at, payload
		from ledger_chain
		where tenant_id = $1 and sequence_number > $2
		order by sequence_number asc
		limit $3
	`, tenantID.Int64(), afterSeq, limit)
	if err != nil {
		return nil, mapError("chain: links", err)
	}
	defer rows.Close()

	var res []ledger.Link
	for rows.Next() {
		var (
			seq       int64
			hash      string
			prev      string
			createdAt time.Time
			payload   string
		)
		if err := rows.Scan(&seq, &hash, &prev, &createdAt, &payload); err != nil {
			return nil, mapError("chain: scan", err)
		}
		e, err := ledger.NewEntry(tenantID, seq, hash, prev, createdAt)
		if err != nil {
			return nil, malformed(tenantID, seq, err)
		}
		res = append(res, ledger.Link{Entry: e, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("chain: links", err)
	}
	return res, nil
}

func (s *ChainStore) Tenants(ctx context.Context) ([]tenant.ID, error) {
	rows, err := s.db.QueryContext(ctx, `select distinct tenant_id from ledger_chain order by tenant_id`)
	if err != nil {
		return nil, mapError("chain: tenants", err)
	}
	defer rows.Close()
	var out []tenant.ID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("chain: scan", err)
		}
		out = append(out, tenant.ID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("chain: tenants", err)
	}
	return out, nil
}

func scanEntry(tenantID tenant.ID, row *sql.Row) (ledger.Entry, error) {
	var (
		seq       int64
		hash      string
		prev      string
		createdAt time.Time
	)
	if err := row.Scan(&seq, &hash, &prev, &createdAt); err != nil {
		return ledger.Entry{}, err
	}
	e, err := ledger.NewEntry(tenantID, seq, hash, prev, createdAt)
	if err != nil {
		return ledger.Entry{}, malformed(tenantID, seq, err)
	}
	return e, nil
}

func malformed(tenantID tenant.ID, seq int64, cause error) error {
	return &apperr.Error{
		Code:    apperr.CodeIntegrityViolation,
		Message: "chain: stored entry is malformed",
		Metadata: map[string]string{
			"tenant_id":       tenantID.String(),
			"sequence_number": strconv.FormatInt(seq, 10),
		},
		Cause: cause,
	}
}
