package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/cache"
	"tenantgov.org/internal/config"
	"tenantgov.org/internal/dispatch"
	"tenantgov.org/internal/governance"
	"tenantgov.org/internal/grpcapi"
	"tenantgov.org/internal/httpapi"
	"tenantgov.org/internal/idempotency"
	"tenantgov.org/internal/ledger"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// licensePorts is what the kernel needs from a license backend.
type licensePorts interface {
	license.Source
	license.AtomicResolver
}

// backend bundles the stores selected by configuration.
type backend struct {
	db       *pg.Store
	licenses licensePorts
	perms    auth.PermissionResolver
	chain    ledger.Store
	cache    idempotency.Cache
	sweep    func(ctx context.Context) (int, error)
	ready    httpapi.ReadyCheck
	closers  []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck(cfg))
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)
	obs.SetLogger(logger)

	// Инициализация observability (регистрация метрик, build_info)
	obs.Init()
	obs.InitBuildInfo("govd", version, commit)
	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("govd_failed", "err", err)
		os.Exit(1)
	}
}

// healthcheck queries the local gRPC health service; used as a container health command.
func healthcheck(cfg config.Config) int {
	target := cfg.GRPCAddr
	if strings.HasPrefix(target, ":") {
		target = "localhost" + target
	}
	st, err := grpcapi.CheckHealth(context.Background(), target, grpcapi.ServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}
	fmt.Println(st.String())
	if st != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *obs.Metrics) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	tokens, err := auth.NewTokens(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	authenticator := auth.NewAuthenticator(tokens, be.licenses, be.perms)

	idem := idempotency.NewGuard(be.cache,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithReservationTTL(cfg.ReservationTTL),
		idempotency.WithMetrics(metrics),
		idempotency.WithLogger(logger),
	)
	guard := license.NewGuard(be.licenses, license.WithMetrics(metrics), license.WithLogger(logger))
	bus := dispatch.NewBus(idem, guard,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
		dispatch.WithTimeout(cfg.PortTimeout),
	)
	verifier := ledger.NewVerifier(be.chain,
		ledger.WithPageSize(cfg.VerifyPageSize),
		ledger.WithVerifierMetrics(metrics),
		ledger.WithVerifierLogger(logger),
	)

	gov := governance.New(governance.Config{
		Bus:           bus,
		Chain:         be.chain,
		Verifier:      verifier,
		Quotas:        be.licenses,
		ChainQuotaKey: cfg.ChainQuotaKey,
	})

	api := httpapi.New(httpapi.Deps{
		Ready:         be.ready,
		Version:       version,
		Authenticator: authenticator,
		Governance:    gov,
		Logger:        logger,
		RateBurst:     cfg.RateLimitBurst,
		RatePerSec:    cfg.RateLimitRPS,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpcapi.New(authenticator, logger)
	grpcSrv.RegisterGovernance(gov)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("http_listening", "addr", httpSrv.Addr, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc_listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go grpcSrv.WatchReadiness(ctx, be.ready, 5*time.Second)
	if be.sweep != nil {
		go sweepLoop(ctx, logger, be.sweep, time.Minute)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err := <-errc:
		logger.Error("server_failed", "err", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown", "err", err)
	}
	select {
	case <-done:
	case <-sctx.Done():
		grpcSrv.Stop()
	}
	logger.Info("stopped")
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	be := &backend{}
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		be.closers = append(be.closers, store.Close)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pctx); err != nil {
			be.close()
			return nil, fmt.Errorf("ping db: %w", err)
		}
		roles := store.Roles()
		if err := roles.EnsurePermissions(pctx, auth.BuiltinPermissions); err != nil {
			be.close()
			return nil, fmt.Errorf("ensure permissions: %w", err)
		}
		be.db = store
		be.licenses = store.Licenses(cfg.PlanCacheTTL)
		be.perms = roles
		be.chain = store.Chain()
		be.ready.DB = store.DB()
	} else {
		logger.Warn("in_memory_stores", "reason", "TENANTGOV_PG_DSN is not set; state is lost on exit")
		resolver := license.NewMemoryResolver()
		seeded, err := seedDev(cfg, resolver)
		if err != nil {
			return nil, err
		}
		if len(seeded) == 0 {
			logger.Warn("no_dev_tenants", "hint", "set TENANTGOV_DEV_TENANTS to provision licenses")
		} else {
			logger.Info("dev_tenants_seeded", "tenants", seeded, "plan", cfg.DevPlan, "roles", []string{"admin", "writer", "auditor"})
		}
		be.licenses = resolver
		be.perms = devRoles
		be.chain = ledger.NewInMemory()
	}

	switch cfg.CacheBackend {
	case config.CacheRedis:
		rc := cache.NewRedis(cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "tenantgov:idem:",
		})
		be.closers = append(be.closers, rc.Close)
		be.cache = rc
		be.ready.Cache = rc
	case config.CachePostgres:
		if be.db == nil {
			be.close()
			return nil, errors.New("postgres cache backend requires a database")
		}
		pc := be.db.Idempotency()
		be.cache = pc
		be.sweep = func(ctx context.Context) (int, error) {
			n, err := pc.Sweep(ctx)
			return int(n), err
		}
	default:
		mc := cache.NewMemory()
		be.cache = mc
		be.sweep = func(context.Context) (int, error) { return mc.Sweep(time.Now()), nil }
	}
	return be, nil
}

// sweepLoop drops expired idempotency records on a fixed interval.
func sweepLoop(ctx context.Context, logger *slog.Logger, sweep func(context.Context) (int, error), every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sweep(ctx)
			if err != nil {
				logger.Warn("idempotency_sweep_failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("idempotency_swept", "removed", n)
			}
		}
	}
}
