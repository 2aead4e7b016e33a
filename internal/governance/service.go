// Package governance holds the kernel operations exposed by the transports:
// sealing chain entries, verifying a tenant chain and reading quota usage.
// Every call goes through the dispatch bus, so tenant, permission, license and
// idempotency checks are the same whichever transport carries the request.
package governance

import (
	"context"
	"strings"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/dispatch"
	"tenantgov.org/internal/ids"
	"tenantgov.org/internal/ledger"
	"tenantgov.org/internal/license"
	"tenantgov.org/internal/retention"
	"tenantgov.org/internal/tenant"
)

// Route names, also used as audit event suffixes.
const (
	RouteAppend = "chain.append"
	RouteVerify = "integrity.verify"
	RouteQuota  = "quota.read"
)

// AppendRequest asks to seal one business record onto a tenant chain.
type AppendRequest struct {
	Tenant tenant.ID `json:"-"`
	Key    string    `json:"-"`

	EntryID   string `json:"entry_id"`
	EntryType string `json:"entry_type"`
	Payload   string `json:"payload"`
	Retention string `json:"retention"`

	category retention.Category
}

func (r AppendRequest) TenantID() tenant.ID    { return r.Tenant }
func (r AppendRequest) IdempotencyKey() string { return r.Key }

type integrityQuery struct{ tenantID tenant.ID }

func (q integrityQuery) TenantID() tenant.ID { return q.tenantID }

type quotaQuery struct {
	tenantID tenant.ID
	key      string
}

func (q quotaQuery) TenantID() tenant.ID { return q.tenantID }

// QuotaView is the read model of one metered key.
type QuotaView struct {
	license.UsageQuota
	Unlimited      bool    `json:"unlimited"`
	Remaining      *int64  `json:"remaining,omitempty"`
	PercentageUsed float64 `json:"percentage_used"`
}

func NewQuotaView(q license.UsageQuota) QuotaView {
	v := QuotaView{UsageQuota: q, Unlimited: q.IsUnlimited(), PercentageUsed: q.PercentageUsed()}
	if !v.Unlimited {
		rem := q.Remaining()
		v.Remaining = &rem
	}
	return v
}

// Config wires a Service.
type Config struct {
	Bus      *dispatch.Bus
	Chain    ledger.Store
	Verifier *ledger.Verifier
	Quotas   license.Resolver
	// ChainQuotaKey, when set, meters chain appends against that quota.
	ChainQuotaKey string
	Now           func() time.Time
}

// Service runs the kernel operations through the bus.
type Service struct {
	bus      *dispatch.Bus
	chain    ledger.Store
	verifier *ledger.Verifier
	quotas   license.Resolver
	now      func() time.Time

	appendRoute dispatch.CommandRoute[AppendRequest, ledger.Entry]
	verifyRoute dispatch.QueryRoute[integrityQuery, ledger.IntegrityCheckResult]
	quotaRoute  dispatch.QueryRoute[quotaQuery, QuotaView]
}

func New(cfg Config) *Service {
	s := &Service{
		bus:      cfg.Bus,
		chain:    cfg.Chain,
		verifier: cfg.Verifier,
		quotas:   cfg.Quotas,
		now:      cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.appendRoute = dispatch.CommandRoute[AppendRequest, ledger.Entry]{
		Name:        RouteAppend,
		Permission:  auth.PermChainAppend,
		QuotaKey:    cfg.ChainQuotaKey,
		QuotaAmount: 1,
		Handle:      s.appendHandler,
	}
	s.verifyRoute = dispatch.QueryRoute[integrityQuery, ledger.IntegrityCheckResult]{
		Name:       RouteVerify,
		Permission: auth.PermIntegrityVerify,
		Handle: func(ctx context.Context, _ auth.SecurityContext, q integrityQuery) (ledger.IntegrityCheckResult, error) {
			return s.verifier.Verify(ctx, q.tenantID)
		},
	}
	s.quotaRoute = dispatch.QueryRoute[quotaQuery, QuotaView]{
		Name:       RouteQuota,
		Permission: auth.PermQuotaRead,
		Handle: func(ctx context.Context, _ auth.SecurityContext, q quotaQuery) (QuotaView, error) {
			quota, err := s.quotas.CheckQuota(ctx, q.tenantID, q.key)
			if err != nil {
				return QuotaView{}, apperr.Unavailable("check quota", err)
			}
			return NewQuotaView(quota), nil
		},
	}
	return s
}

// Append validates req and seals it onto the caller's chain. A repeated key
// replays the entry sealed the first time.
func (s *Service) Append(ctx context.Context, sc auth.SecurityContext, req AppendRequest) (ledger.Entry, error) {
	req.EntryType = strings.TrimSpace(req.EntryType)
	if req.EntryType == "" {
		return ledger.Entry{}, apperr.InvalidArgument("entry_type is required")
	}
	if req.Retention != "" {
		c, err := retention.ParseCategory(req.Retention)
		if err != nil {
			return ledger.Entry{}, err
		}
		req.category = c
	}
	return s.appendRoute.Dispatch(ctx, s.bus, sc, req)
}

func (s *Service) appendHandler(ctx context.Context, _ auth.SecurityContext, req AppendRequest) (ledger.Entry, error) {
	entryID := req.EntryID
	if entryID == "" {
		entryID = ids.New()
	}
	entry, err := s.chain.Append(ctx, ledger.Event{
		ID:        entryID,
		Tenant:    req.Tenant,
		Type:      req.EntryType,
		Payload:   req.Payload,
		At:        s.now(),
		Retention: req.category,
	})
	if err != nil {
		return ledger.Entry{}, apperr.Unavailable("append chain entry", err)
	}
	return entry, nil
}

// Verify recomputes the tenant chain and reports every broken entry.
func (s *Service) Verify(ctx context.Context, sc auth.SecurityContext, tenantID tenant.ID) (ledger.IntegrityCheckResult, error) {
	return s.verifyRoute.Dispatch(ctx, s.bus, sc, integrityQuery{tenantID: tenantID})
}

// Quota reports usage of one metered key.
func (s *Service) Quota(ctx context.Context, sc auth.SecurityContext, tenantID tenant.ID, key string) (QuotaView, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return QuotaView{}, apperr.InvalidArgument("quota key is required")
	}
	return s.quotaRoute.Dispatch(ctx, s.bus, sc, quotaQuery{tenantID: tenantID, key: key})
}
