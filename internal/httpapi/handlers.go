// Package httpapi exposes the governance kernel over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/governance"
	"tenantgov.org/internal/obs"
)

// Pinger is any backend that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck checks the database and the cache backend, whichever are set.
type ReadyCheck struct {
	DB    *sql.DB
	Cache Pinger
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	var errs []error
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deps are the collaborators of the HTTP layer. Nil Authenticator disables auth.
type Deps struct {
	Ready         ReadyCheck
	Version       string
	Authenticator *auth.Authenticator
	Governance    *governance.Service
	Logger        *slog.Logger
	RateBurst     int
	RatePerSec    float64
	MaxBodyBytes  int64
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyCheck ReadyCheck
	version    string
	auth       *auth.Authenticator
	gov        *governance.Service
	logger     *slog.Logger
	now        func() time.Time

	rateBurst  int
	ratePerSec float64
	maxBody    int64
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyCheck: d.Ready,
		version:    d.Version,
		auth:       d.Authenticator,
		gov:        d.Governance,
		logger:     obs.Or(d.Logger),
		now:        time.Now,
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
		maxBody:    d.MaxBodyBytes,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 100
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 50
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/tenants/{tenant}/chain", a.AppendEntry)
	a.mux.HandleFunc("GET /v1/tenants/{tenant}/integrity", a.VerifyChain)
	a.mux.HandleFunc("GET /v1/tenants/{tenant}/quotas/{key}", a.Quota)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = logRequests(a.logger, h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tenantgov",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyCheck.Check(ctx); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness_failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "tenantgov",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
