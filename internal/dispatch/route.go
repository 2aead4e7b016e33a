package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/audit"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/idempotency"
)

// CommandRoute binds a command handler to the checks it must pass.
// Empty Module, Feature, Integration, Permission or QuotaKey skip that check.
type CommandRoute[C Command, R any] struct {
	Name        string
	Module      string
	Feature     string
	Integration string
	Permission  string
	QuotaKey    string
	QuotaAmount int64
	Handle      func(ctx context.Context, sc auth.SecurityContext, cmd C) (R, error)
}

// Dispatch executes cmd at most once per idempotency key.
// A replay returns the recorded result without calling the handler.
func (r CommandRoute[C, R]) Dispatch(ctx context.Context, b *Bus, sc auth.SecurityContext, cmd C) (res R, err error) {
	started := time.Now()
	status := ""
	defer func() {
		if status == "" {
			status = outcome(err)
		}
		b.metrics.Dispatched("command", r.Name, status, started)
	}()

	if r.Handle == nil {
		return res, fmt.Errorf("dispatch: route %q has no handler", r.Name)
	}
	if err := sc.AssertTenant(cmd.TenantID()); err != nil {
		return res, err
	}
	if r.Permission != "" {
		if err := sc.AssertPermission(r.Permission); err != nil {
			return res, err
		}
	}
	ctx = auth.ContextWithSecurity(ctx, sc)

	key := scope(cmd)
	if key == "" {
		return res, apperr.InvalidArgument("idempotency key is required")
	}

	type lookup struct {
		raw json.RawMessage
		hit bool
	}
	found, err := retry(ctx, b, "idempotency_check", func(ctx context.Context) (lookup, error) {
		raw, hit, err := b.idem.Check(ctx, key)
		return lookup{raw, hit}, err
	})
	if err != nil {
		return res, err
	}
	if found.hit {
		if err := json.Unmarshal(found.raw, &res); err != nil {
			return res, fmt.Errorf("dispatch: decode recorded result for %s: %w", r.Name, err)
		}
		status = "replayed"
		b.logger.Info("command_replayed", "route", r.Name, "tenant_id", sc.TenantID().Int64())
		return res, nil
	}

	won, err := call(ctx, b, func(ctx context.Context) (bool, error) {
		return b.idem.Reserve(ctx, key)
	})
	if err != nil {
		return res, err
	}
	if !won {
		return res, idempotency.ErrInFlight
	}
	defer func() {
		if err == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		if rerr := b.idem.Release(rctx, key); rerr != nil {
			b.logger.Error("idempotency_release_failed", "route", r.Name, "tenant_id", sc.TenantID().Int64(), "err", rerr)
		}
	}()

	if err := r.admit(ctx, b, sc); err != nil {
		return res, err
	}

	res, err = r.Handle(ctx, sc, cmd)
	if err != nil {
		return res, err
	}

	raw, merr := json.Marshal(res)
	if merr != nil {
		b.logger.Error("idempotency_encode_failed", "route", r.Name, "err", merr)
	} else if _, rerr := retry(ctx, b, "idempotency_record", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.idem.Record(ctx, key, raw)
	}); rerr != nil {
		// The effect happened: keep the key blocked rather than let a retry repeat it.
		b.logger.Error("idempotency_record_failed", "route", r.Name, "tenant_id", sc.TenantID().Int64(), "err", rerr)
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		if herr := b.idem.Hold(hctx, key); herr != nil {
			b.logger.Error("idempotency_hold_failed", "route", r.Name, "tenant_id", sc.TenantID().Int64(), "err", herr)
		}
		cancel()
	}

	_ = audit.LogEventTo(ctx, b.logger, "command."+r.Name, map[string]any{
		"idempotency_key": cmd.IdempotencyKey(),
		"module":          r.Module,
	})
	return res, nil
}

func (r CommandRoute[C, R]) admit(ctx context.Context, b *Bus, sc auth.SecurityContext) error {
	if r.Module != "" {
		if err := b.licenses.AssertModule(sc, r.Module); err != nil {
			return err
		}
	}
	if r.Feature != "" {
		if err := b.licenses.AssertFeature(sc, r.Feature); err != nil {
			return err
		}
	}
	if r.Integration != "" {
		if err := b.licenses.AssertIntegration(sc, r.Integration); err != nil {
			return err
		}
	}
	if r.QuotaKey != "" {
		_, err := call(ctx, b, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, b.licenses.ConsumeQuota(ctx, sc, r.QuotaKey, r.QuotaAmount)
		})
		return err
	}
	return nil
}

// QueryRoute binds a read-only handler to its license and permission checks.
type QueryRoute[Q Query, R any] struct {
	Name       string
	Module     string
	Feature    string
	Permission string
	Handle     func(ctx context.Context, sc auth.SecurityContext, q Q) (R, error)
}

func (r QueryRoute[Q, R]) Dispatch(ctx context.Context, b *Bus, sc auth.SecurityContext, q Q) (res R, err error) {
	started := time.Now()
	defer func() { b.metrics.Dispatched("query", r.Name, outcome(err), started) }()

	if r.Handle == nil {
		return res, fmt.Errorf("dispatch: route %q has no handler", r.Name)
	}
	if err := sc.AssertTenant(q.TenantID()); err != nil {
		return res, err
	}
	if r.Permission != "" {
		if err := sc.AssertPermission(r.Permission); err != nil {
			return res, err
		}
	}
	if r.Module != "" {
		if err := b.licenses.AssertModule(sc, r.Module); err != nil {
			return res, err
		}
	}
	if r.Feature != "" {
		if err := b.licenses.AssertFeature(sc, r.Feature); err != nil {
			return res, err
		}
	}
	ctx = auth.ContextWithSecurity(ctx, sc)
	res, err = r.Handle(ctx, sc, q)
	if err != nil {
		return res, err
	}
	_ = audit.LogEventTo(ctx, b.logger, "query."+r.Name, nil)
	return res, nil
}
