// Package config loads process configuration from TENANTGOV_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Cache backends for idempotency records.
const (
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
)

// Config is the full runtime configuration of the kernel binaries.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`
	PGDSN    string `env:"PG_DSN"`

	CacheBackend  string `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AuthSecret string `env:"AUTH_SECRET"`
	AuthIssuer string `env:"AUTH_ISSUER" envDefault:"tenantgov"`

	PortTimeout     time.Duration `env:"PORT_TIMEOUT" envDefault:"2s"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	ReservationTTL  time.Duration `env:"RESERVATION_TTL" envDefault:"5m"`
	PlanCacheTTL    time.Duration `env:"PLAN_CACHE_TTL" envDefault:"1m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`

	VerifyPageSize int `env:"VERIFY_PAGE_SIZE" envDefault:"500"`

	// ChainQuotaKey, when set, meters every chain append against that quota.
	ChainQuotaKey string `env:"CHAIN_QUOTA_KEY"`

	// Without PG_DSN the stores live in memory; these tenants are provisioned
	// at start with an active license on one dev plan.
	DevTenants []int64          `env:"DEV_TENANTS" envSeparator:","`
	DevPlan    string           `env:"DEV_PLAN" envDefault:"dev"`
	DevModules []string         `env:"DEV_MODULES" envSeparator:","`
	DevQuotas  map[string]int64 `env:"DEV_QUOTAS" envSeparator:"," envKeyValSeparator:":" envDefault:"chain_entries:10000"`
}

// Prefix is prepended to every variable name.
const Prefix = "TENANTGOV_"

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis cache backend requires REDIS_ADDR"))
		}
	case CachePostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("postgres cache backend requires PG_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.CacheBackend))
	}
	if c.PortTimeout <= 0 {
		errs = append(errs, errors.New("PORT_TIMEOUT must be positive"))
	}
	if c.ReservationTTL <= 0 || c.IdempotencyTTL < c.ReservationTTL {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be at least RESERVATION_TTL and both positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.VerifyPageSize <= 0 || c.VerifyPageSize > 1000 {
		errs = append(errs, errors.New("VERIFY_PAGE_SIZE must be within 1..1000"))
	}
	if len(c.DevTenants) > 0 && c.PGDSN != "" {
		errs = append(errs, errors.New("DEV_TENANTS only applies to the in-memory stores; unset PG_DSN"))
	}
	for _, id := range c.DevTenants {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("DEV_TENANTS: tenant id %d must be positive", id))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
