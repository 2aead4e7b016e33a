// Package dispatch routes commands and queries through the governance checks
// in a fixed order before any handler touches business data.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/idempotency"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/tenant"
)

// Command is a state-changing request carrying a caller-chosen idempotency key.
type Command interface {
	TenantID() tenant.ID
	IdempotencyKey() string
}

// Query is a read-only request.
type Query interface {
	TenantID() tenant.ID
}

const (
	DefaultTimeout  = 2 * time.Second
	DefaultMaxTries = 3
)

// Bus holds the collaborators shared by every route.
type Bus struct {
	idem     *idempotency.Guard
	licenses *license.Guard
	logger   *slog.Logger
	metrics  *obs.Metrics
	timeout  time.Duration
	maxTries uint
	initial  time.Duration
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithTimeout bounds every port call made by the bus.
func WithTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRetry sets the attempts and first backoff interval for retryable port failures.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(b *Bus) {
		if maxTries > 0 {
			b.maxTries = maxTries
		}
		if initial > 0 {
			b.initial = initial
		}
	}
}

// NewBus wires the idempotency and license guards.
func NewBus(idem *idempotency.Guard, licenses *license.Guard, opts ...Option) *Bus {
	b := &Bus{
		idem:     idem,
		licenses: licenses,
		timeout:  DefaultTimeout,
		maxTries: DefaultMaxTries,
		initial:  50 * time.Millisecond,
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = obs.Or(b.logger)
	return b
}

func (b *Bus) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.initial
	eb.MaxInterval = time.Second
	return eb
}

// call runs fn under the bus timeout.
func call[T any](ctx context.Context, b *Bus, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return fn(ctx)
}

// retry runs fn under the bus timeout and retries Unavailable failures with
// exponential backoff. Any other error is returned on the first attempt.
func retry[T any](ctx context.Context, b *Bus, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := call(ctx, b, fn)
		if err == nil {
			return v, nil
		}
		if apperr.CodeOf(err) != apperr.CodeUnavailable {
			return v, backoff.Permanent(err)
		}
		b.logger.Warn("port_retry", "op", op, "attempt", attempt, "err", err)
		return v, err
	}, backoff.WithBackOff(b.newBackOff()), backoff.WithMaxTries(b.maxTries))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperr.CodeOf(err)))
}

// scopedKey prefixes a command key with its tenant so keys never collide across tenants.
type scopedKey string

func (k scopedKey) IdempotencyKey() string { return string(k) }

func scope(cmd Command) scopedKey {
	key := strings.TrimSpace(cmd.IdempotencyKey())
	if key == "" {
		return ""
	}
	return scopedKey(cmd.TenantID().String() + ":" + key)
}
