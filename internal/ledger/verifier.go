package ledger

import (
	"context"
	"log/slog"
	"time"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/tenant"
)

// Verifier walks a stored chain page by page.
type Verifier struct {
	reader   ChainReader
	pageSize int
	metrics  *obs.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type VerifierOption func(*Verifier)

func WithPageSize(n int) VerifierOption {
	return func(v *Verifier) { v.pageSize = ClampPage(n) }
}

func WithVerifierMetrics(m *obs.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(reader ChainReader, opts ...VerifierOption) *Verifier {
	v := &Verifier{reader: reader, pageSize: 500, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	v.logger = obs.Or(v.logger)
	return v
}

// Verify checks the whole chain of tenantID. Breaks are reported in the result;
// an error means the chain could not be read.
func (v *Verifier) Verify(ctx context.Context, tenantID tenant.ID) (IntegrityCheckResult, error) {
	if !tenantID.Valid() {
		return IntegrityCheckResult{}, apperr.InvalidArgument("tenant id must be positive")
	}
	w := newWalker(tenantID)
	var after int64
	for {
		page, err := v.reader.Links(ctx, tenantID, after, v.pageSize)
		if err != nil {
			return IntegrityCheckResult{}, apperr.Unavailable("chain read", err)
		}
		for _, l := range page {
			w.step(l)
			if s := l.Entry.Sequence(); s > after {
				after = s
			}
		}
		if len(page) < v.pageSize {
			break
		}
	}
	res := w.result(v.now())
	v.metrics.IntegrityChecked(res.Passed(), len(res.failed))
	if res.Passed() {
		v.logger.Info("chain_verified", "tenant_id", tenantID.Int64(), "checked", res.CheckedEntries())
	} else {
		v.logger.Warn("chain_broken", "tenant_id", tenantID.Int64(), "checked", res.CheckedEntries(), "failed", len(res.failed))
	}
	return res, nil
}
