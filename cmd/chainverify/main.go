// Command chainverify recomputes tenant hash chains and prints one JSON
// result per tenant. It exits 1 when any chain is broken.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"tenantgov.org/internal/config"
	"tenantgov.org/internal/ledger"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/store/pg"
	"tenantgov.org/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	var (
		dsn      = flag.String("dsn", cfg.PGDSN, "PostgreSQL DSN (default TENANTGOV_PG_DSN)")
		only     = flag.Int64("tenant", 0, "Verify a single tenant; 0 verifies all")
		perSec   = flag.Float64("rate", 5, "Tenants verified per second")
		pageSize = flag.Int("page", cfg.VerifyPageSize, "Entries read per page")
	)
	flag.Parse()
	logger := obs.NewLogger(os.Stderr, cfg.LogLevel)

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "missing DSN: provide via -dsn or TENANTGOV_PG_DSN")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(*dsn)
	if err != nil {
		logger.Error("open_db", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	chain := store.Chain()
	verifier := ledger.NewVerifier(chain, ledger.WithPageSize(*pageSize), ledger.WithVerifierLogger(logger))

	var tenants []tenant.ID
	if *only != 0 {
		id, err := tenant.NewID(*only)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		tenants = []tenant.ID{id}
	} else if tenants, err = chain.Tenants(ctx); err != nil {
		logger.Error("list_tenants", "err", err)
		os.Exit(1)
	}

	broken, err := verifyAll(ctx, verifier, tenants, rate.NewLimiter(rate.Limit(*perSec), 1), json.NewEncoder(os.Stdout))
	if err != nil {
		logger.Error("verify_failed", "err", err)
		os.Exit(1)
	}
	logger.Info("verify_done", "tenants", len(tenants), "broken", broken)
	if broken > 0 {
		os.Exit(1)
	}
}

func verifyAll(ctx context.Context, v *ledger.Verifier, tenants []tenant.ID, lim *rate.Limiter, out *json.Encoder) (int, error) {
	broken := 0
	for _, id := range tenants {
		if err := lim.Wait(ctx); err != nil {
			return broken, err
		}
		res, err := v.Verify(ctx, id)
		if err != nil {
			return broken, fmt.Errorf("tenant %s: %w", id, err)
		}
		if !res.Passed() {
			broken++
		}
		if err := out.Encode(res); err != nil {
			return broken, err
		}
	}
	return broken, nil
}
