package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenantgov.org/internal/cache"
)

// IdempotencyCache is a cache over idempotency_keys for deployments without Redis.
type IdempotencyCache struct {
	db  *sql.DB
	now func() time.Time
}

func NewIdempotencyCache(db *sql.DB) *IdempotencyCache {
	return &IdempotencyCache{db: db, now: time.Now}
}

func (c *IdempotencyCache) clock() time.Time {
	if c.now == nil {
		return time.Now().UTC()
	}
	return c.now().UTC()
}

func (c *IdempotencyCache) expiry(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: c.clock().Add(ttl), Valid: true}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx, `
		select value
		from idempotency_keys
		where key = $1 and (expires_at is null or expires_at > $2)
	`, key, c.clock()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, mapError("idempotency: get", err)
	}
	return value, nil
}

func (c *IdempotencyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
		insert into idempotency_keys (key, value, expires_at)
		values ($1, $2, $3)
		on conflict (key) do update set value = excluded.value, expires_at = excluded.expires_at
	`, key, value, c.expiry(ttl))
	return mapError("idempotency: set", err)
}

// SetNX inserts key unless a live row exists. An expired row is taken over.
func (c *IdempotencyCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		insert into idempotency_keys (key, value, expires_at)
		values ($1, $2, $3)
		on conflict (key) do update set value = excluded.value, expires_at = excluded.expires_at
		where idempotency_keys.expires_at is not null and idempotency_keys.expires_at <= $4
	`, key, value, c.expiry(ttl), c.clock())
	if err != nil {
		return false, mapError("idempotency: setnx", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, mapError("idempotency: setnx", err)
	}
	return aff == 1, nil
}

func (c *IdempotencyCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `delete from idempotency_keys where key = $1`, key)
	return mapError("idempotency: delete", err)
}

// Sweep removes expired rows and reports how many were deleted.
func (c *IdempotencyCache) Sweep(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `delete from idempotency_keys where expires_at is not null and expires_at <= $1`, c.clock())
	if err != nil {
		return 0, mapError("idempotency: sweep", err)
	}
	return res.RowsAffected()
}
