// Package idempotency gives command execution at-most-once effect under retries.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/cache"
	"tenantgov.org/internal/obs"
)

const (
	// KeyPrefix namespaces idempotency records in the cache.
	KeyPrefix = "idempotency:"
	// DefaultTTL is how long a recorded result is replayed.
	DefaultTTL = 24 * time.Hour
	// DefaultReservationTTL bounds how long a crashed execution blocks its key.
	DefaultReservationTTL = 5 * time.Minute
)

// ErrInFlight means another execution holds the reservation for the key.
var ErrInFlight = apperr.New(apperr.CodeConflict, "idempotency: command already in flight")

// Keyed is anything carrying a caller-chosen idempotency key.
type Keyed interface {
	IdempotencyKey() string
}

// Cache is the key-value port. Get must return cache.ErrMiss for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Reserver is the optional insert-if-absent primitive that closes the check/record race.
type Reserver interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

type recordState string

const (
	statePending   recordState = "pending"
	stateCompleted recordState = "completed"
)

type envelope struct {
	State      recordState     `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Guard maps idempotency keys to previously produced results.
// It does no tenant scoping; callers embed the tenant in the key.
type Guard struct {
	cache          Cache
	ttl            time.Duration
	reservationTTL time.Duration
	metrics        *obs.Metrics
	logger         *slog.Logger
	now            func() time.Time
	degradedOnce   sync.Once
}

// Option configures Guard.
type Option func(*Guard)

func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithReservationTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.reservationTTL = ttl
		}
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// NewGuard wraps c.
func NewGuard(c Cache, opts ...Option) *Guard {
	g := &Guard{
		cache:          c,
		ttl:            DefaultTTL,
		reservationTTL: DefaultReservationTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = obs.Or(g.logger)
	return g
}

// Key returns the cache key for cmd.
func Key(cmd Keyed) string {
	return KeyPrefix + cmd.IdempotencyKey()
}

// Check returns the recorded result for cmd, if any. A miss is (nil, false, nil);
// an unreachable cache is an Unavailable error, never a miss.
func (g *Guard) Check(ctx context.Context, cmd Keyed) (json.RawMessage, bool, error) {
	key, err := g.key(cmd)
	if err != nil {
		return nil, false, err
	}
	raw, err := g.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		g.metrics.IdempotencyLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		g.metrics.IdempotencyLookup("error")
		return nil, false, apperr.Unavailable("idempotency: check", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.metrics.IdempotencyLookup("error")
		return nil, false, fmt.Errorf("idempotency: decode record %s: %w", key, err)
	}
	switch env.State {
	case stateCompleted:
		g.metrics.IdempotencyLookup("hit")
		return env.Result, true, nil
	case statePending:
		g.metrics.IdempotencyLookup("in_flight")
		return nil, false, ErrInFlight
	default:
		g.metrics.IdempotencyLookup("error")
		return nil, false, fmt.Errorf("idempotency: unknown record state %q", env.State)
	}
}

// Reserve claims cmd's key for one execution. false means another execution owns it.
// Without a Reserver the guard degrades to check-then-record and always returns true.
func (g *Guard) Reserve(ctx context.Context, cmd Keyed) (bool, error) {
	key, err := g.key(cmd)
	if err != nil {
		return false, err
	}
	r, ok := g.cache.(Reserver)
	if !ok {
		g.degradedOnce.Do(func() {
			g.logger.Warn("idempotency_reserve_unsupported", "cache", fmt.Sprintf("%T", g.cache))
		})
		return true, nil
	}
	marker, err := json.Marshal(envelope{State: statePending, RecordedAt: g.now().UTC()})
	if err != nil {
		return false, err
	}
	won, err := r.SetNX(ctx, key, marker, g.reservationTTL)
	if err != nil {
		return false, apperr.Unavailable("idempotency: reserve", err)
	}
	return won, nil
}

// Record stores result under cmd's key for the guard TTL, replacing any reservation.
func (g *Guard) Record(ctx context.Context, cmd Keyed, result json.RawMessage) error {
	key, err := g.key(cmd)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{State: stateCompleted, Result: result, RecordedAt: g.now().UTC()})
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := g.cache.Set(ctx, key, raw, g.ttl); err != nil {
		return apperr.Unavailable("idempotency: record", err)
	}
	return nil
}

// Hold keeps cmd's key pending for the full guard TTL. It is used when the
// effect happened but its result could not be recorded: retries then see
// ErrInFlight instead of running the command a second time.
func (g *Guard) Hold(ctx context.Context, cmd Keyed) error {
	key, err := g.key(cmd)
	if err != nil {
		return err
	}
	marker, err := json.Marshal(envelope{State: statePending, RecordedAt: g.now().UTC()})
	if err != nil {
		return err
	}
	if err := g.cache.Set(ctx, key, marker, g.ttl); err != nil {
		return apperr.Unavailable("idempotency: hold", err)
	}
	return nil
}

// Release drops a reservation after a failed execution so a retry can run.
func (g *Guard) Release(ctx context.Context, cmd Keyed) error {
	key, err := g.key(cmd)
	if err != nil {
		return err
	}
	if err := g.cache.Delete(ctx, key); err != nil {
		return apperr.Unavailable("idempotency: release", err)
	}
	return nil
}

func (g *Guard) key(cmd Keyed) (string, error) {
	if g == nil || g.cache == nil {
		return "", apperr.New(apperr.CodeUnavailable, "idempotency: cache is not configured")
	}
	if strings.TrimSpace(cmd.IdempotencyKey()) == "" {
		return "", apperr.InvalidArgument("idempotency key is required")
	}
	return Key(cmd), nil
}
