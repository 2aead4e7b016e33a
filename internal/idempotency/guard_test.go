package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/cache"
)

type command struct {
	key    string
	amount int
}

func (c command) IdempotencyKey() string { return c.key }

// brokenCache fails every call like an unreachable backend.
type brokenCache struct{ err error }

func (b brokenCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, b.err }
func (b brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.err
}
func (b brokenCache) Delete(ctx context.Context, key string) error { return b.err }

// plainCache hides SetNX from the guard.
type plainCache struct{ m *cache.Memory }

func (p plainCache) Get(ctx context.Context, key string) ([]byte, error) { return p.m.Get(ctx, key) }
func (p plainCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.m.Set(ctx, key, value, ttl)
}
func (p plainCache) Delete(ctx context.Context, key string) error { return p.m.Delete(ctx, key) }

// spyCache records the TTL of the last Set.
type spyCache struct {
	*cache.Memory
	lastKey string
	lastTTL time.Duration
}

func (s *spyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.lastKey, s.lastTTL = key, ttl
	return s.Memory.Set(ctx, key, value, ttl)
}

func TestRecordThenCheckReplaysForSameKey(t *testing.T) {
	g := NewGuard(cache.NewMemory())
	ctx := context.Background()

	first := command{key: "t11:invoice-2026-0042", amount: 100}
	if err := g.Record(ctx, first, json.RawMessage(`{"invoice_id":"inv_1"}`)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	retry := command{key: "t11:invoice-2026-0042", amount: 999}
	got, ok, err := g.Check(ctx, retry)
	if err != nil || !ok {
		t.Fatalf("Check=%v,%v", ok, err)
	}
	if string(got) != `{"invoice_id":"inv_1"}` {
		t.Fatalf("unexpected replay %s", got)
	}

	other := command{key: "t11:invoice-2026-0043", amount: 100}
	if _, ok, err := g.Check(ctx, other); ok || err != nil {
		t.Fatalf("different keys must be independent: ok=%v err=%v", ok, err)
	}
}

func TestRecordUsesPrefixAndTTL(t *testing.T) {
	spy := &spyCache{Memory: cache.NewMemory()}
	g := NewGuard(spy)
	if err := g.Record(context.Background(), command{key: "abc"}, json.RawMessage(`1`)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if spy.lastKey != "idempotency:abc" {
		t.Fatalf("unexpected key %q", spy.lastKey)
	}
	if spy.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", spy.lastTTL)
	}
}

func TestReserveIsExclusive(t *testing.T) {
	g := NewGuard(cache.NewMemory())
	ctx := context.Background()
	cmd := command{key: "t11:payroll-run-7"}

	won, err := g.Reserve(ctx, cmd)
	if err != nil || !won {
		t.Fatalf("first Reserve=%v,%v", won, err)
	}
	won, err = g.Reserve(ctx, cmd)
	if err != nil || won {
		t.Fatalf("second Reserve=%v,%v", won, err)
	}
	if _, _, err := g.Check(ctx, cmd); !errors.Is(err, ErrInFlight) {
		t.Fatalf("pending reservation must report in flight, got %v", err)
	}
	if !apperr.IsRetryable(ErrInFlight) {
		t.Fatalf("in-flight must be retryable")
	}

	if err := g.Record(ctx, cmd, json.RawMessage(`"done"`)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, ok, err := g.Check(ctx, cmd)
	if err != nil || !ok || string(got) != `"done"` {
		t.Fatalf("Check after record=%s,%v,%v", got, ok, err)
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	g := NewGuard(cache.NewMemory())
	ctx := context.Background()
	cmd := command{key: "t11:sms-batch"}
	if won, _ := g.Reserve(ctx, cmd); !won {
		t.Fatalf("expected reservation")
	}
	if err := g.Release(ctx, cmd); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if won, _ := g.Reserve(ctx, cmd); !won {
		t.Fatalf("released key must be reservable again")
	}
}

func TestReservationExpires(t *testing.T) {
	mem := cache.NewMemory()
	g := NewGuard(mem, WithReservationTTL(time.Second))
	ctx := context.Background()
	cmd := command{key: "t11:crashed"}
	if won, _ := g.Reserve(ctx, cmd); !won {
		t.Fatalf("expected reservation")
	}
	mem.Sweep(time.Now().Add(2 * time.Second))
	if won, _ := g.Reserve(ctx, cmd); !won {
		t.Fatalf("expired reservation must not block forever")
	}
}

func TestUnreachableCacheIsNotAMiss(t *testing.T) {
	refused := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	g := NewGuard(brokenCache{err: refused})
	ctx := context.Background()
	cmd := command{key: "k"}

	_, ok, err := g.Check(ctx, cmd)
	if ok || !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got ok=%v err=%v", ok, err)
	}
	if err := g.Record(ctx, cmd, json.RawMessage(`1`)); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable on record, got %v", err)
	}
	if err := g.Release(ctx, cmd); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable on release, got %v", err)
	}
}

func TestReserveDegradesWithoutSetNX(t *testing.T) {
	g := NewGuard(plainCache{m: cache.NewMemory()})
	cmd := command{key: "k"}
	for i := 0; i < 2; i++ {
		won, err := g.Reserve(context.Background(), cmd)
		if err != nil || !won {
			t.Fatalf("degraded Reserve=%v,%v", won, err)
		}
	}
}

func TestEmptyKeyIsRejected(t *testing.T) {
	g := NewGuard(cache.NewMemory())
	if _, _, err := g.Check(context.Background(), command{key: "  "}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestCorruptRecordIsAnError(t *testing.T) {
	mem := cache.NewMemory()
	_ = mem.Set(context.Background(), "idempotency:bad", []byte("not json"), time.Minute)
	g := NewGuard(mem)
	if _, ok, err := g.Check(context.Background(), command{key: "bad"}); ok || err == nil {
		t.Fatalf("corrupt record must fail, got ok=%v err=%v", ok, err)
	}
}

func TestHoldKeepsKeyPendingForFullTTL(t *testing.T) {
	spy := &spyCache{Memory: cache.NewMemory()}
	g := NewGuard(spy, WithTTL(time.Hour), WithReservationTTL(time.Second))
	ctx := context.Background()
	cmd := command{key: "t11:unrecorded"}
	if won, _ := g.Reserve(ctx, cmd); !won {
		t.Fatalf("expected reservation")
	}
	if err := g.Hold(ctx, cmd); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if spy.lastTTL != time.Hour || spy.lastKey != KeyPrefix+"t11:unrecorded" {
		t.Fatalf("Hold wrote %q with ttl %v", spy.lastKey, spy.lastTTL)
	}
	spy.Sweep(time.Now().Add(2 * time.Second))
	if _, _, err := g.Check(ctx, cmd); !errors.Is(err, ErrInFlight) {
		t.Fatalf("held key must stay in flight past the reservation TTL, got %v", err)
	}
	if err := NewGuard(brokenCache{err: errors.New("i/o timeout")}).Hold(ctx, cmd); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
