// Command smoke-chain runs the invoice scenario end to end against the
// in-memory stores: dispatch with replay, quota exhaustion, chain
// verification and tamper detection.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/cache"
	"tenantgov.org/internal/dispatch"
	"tenantgov.org/internal/idempotency"
	"tenantgov.org/internal/ledger"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/retention"
	"tenantgov.org/internal/tenant"
)

const salon tenant.ID = 42

type createInvoice struct {
	key    string
	number int
	amount int64
}

func (c createInvoice) TenantID() tenant.ID    { return salon }
func (c createInvoice) IdempotencyKey() string { return c.key }

// forged replays stored links with one payload rewritten.
type forged struct {
	ledger.ChainReader
	seq     int64
	payload string
}

func (f forged) Links(ctx context.Context, id tenant.ID, after int64, limit int) ([]ledger.Link, error) {
	links, err := f.ChainReader.Links(ctx, id, after, limit)
	for i := range links {
		if links[i].Entry.Sequence() == f.seq {
			links[i].Payload = f.payload
		}
	}
	return links, err
}

func main() {
	if err := run(context.Background()); err != nil {
		obs.Logger().Error("smoke_failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("✅ chain smoke test passed")
}

func run(ctx context.Context) error {
	logger := obs.Logger()
	plan, err := license.NewPlan(license.PlanDefinition{
		ID:      "professional-v2",
		Modules: []string{"invoices"},
		Quotas:  map[string]int64{"invoices": 2},
	})
	if err != nil {
		return err
	}
	lic, err := license.New(salon, plan, license.StatusActive, nil)
	if err != nil {
		return err
	}
	resolver := license.NewMemoryResolver()
	resolver.PutLicense(lic)
	sc, err := auth.System(salon, lic, "smoke-chain")
	if err != nil {
		return err
	}

	chain := ledger.NewInMemory()
	bus := dispatch.NewBus(
		idempotency.NewGuard(cache.NewMemory(), idempotency.WithLogger(logger)),
		license.NewGuard(resolver, license.WithLogger(logger)),
		dispatch.WithLogger(logger),
	)
	route := dispatch.CommandRoute[createInvoice, ledger.Entry]{
		Name:        "invoice.create",
		Module:      "invoices",
		QuotaKey:    "invoices",
		QuotaAmount: 1,
		Handle: func(ctx context.Context, sc auth.SecurityContext, cmd createInvoice) (ledger.Entry, error) {
			return chain.Append(ctx, ledger.Event{
				ID:        fmt.Sprintf("inv-%d", cmd.number),
				Tenant:    sc.TenantID(),
				Type:      "invoice",
				Payload:   fmt.Sprintf("invoice:%d|amount=%d", cmd.number, cmd.amount),
				At:        time.Now(),
				Retention: retention.Fiscal,
			})
		},
	}

	first, err := route.Dispatch(ctx, bus, sc, createInvoice{key: "inv-2026-0001", number: 1, amount: 100})
	if err != nil {
		return fmt.Errorf("invoice 1: %w", err)
	}
	replay, err := route.Dispatch(ctx, bus, sc, createInvoice{key: "inv-2026-0001", number: 1, amount: 100})
	if err != nil {
		return fmt.Errorf("invoice 1 replay: %w", err)
	}
	if replay.EntryHash() != first.EntryHash() {
		return errors.New("replay produced a new entry")
	}
	second, err := route.Dispatch(ctx, bus, sc, createInvoice{key: "inv-2026-0002", number: 2, amount: 250})
	if err != nil {
		return fmt.Errorf("invoice 2: %w", err)
	}
	if second.PreviousHash() != first.EntryHash() {
		return errors.New("invoice 2 is not linked to invoice 1")
	}
	fmt.Printf("appended entries 1..%d, tail=%s\n", second.Sequence(), second.EntryHash()[:12])

	_, err = route.Dispatch(ctx, bus, sc, createInvoice{key: "inv-2026-0003", number: 3, amount: 5})
	if !errors.Is(err, apperr.ErrQuotaExhausted) {
		return fmt.Errorf("expected quota exhaustion on invoice 3, got %v", err)
	}
	fmt.Println("quota exhausted after 2 invoices as planned")

	res, err := ledger.NewVerifier(chain).Verify(ctx, salon)
	if err != nil {
		return err
	}
	if !res.Passed() || res.CheckedEntries() != 2 {
		return fmt.Errorf("clean chain failed verification: %+v", res.FailedEntries())
	}

	tampered, err := ledger.NewVerifier(forged{ChainReader: chain, seq: 2, payload: "invoice:2|amount=1"}).Verify(ctx, salon)
	if err != nil {
		return err
	}
	failed := tampered.FailedEntries()
	if tampered.Passed() || len(failed) != 1 || failed[0].Sequence != 2 || failed[0].Reason != ledger.ReasonHashMismatch {
		return fmt.Errorf("tampering not detected: %+v", failed)
	}
	fmt.Printf("tampered entry %d detected: %s\n", failed[0].Sequence, failed[0].Reason)
	return nil
}
