package bureau

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

var _ domain.CreditChecker = (*CachingChecker)(nil)

// lookupCounterKey tracks live bureau lookups per tenant over a rolling
// daily window. Cached hits do not count against the budget.
const (
	lookupCounterKey = "bureau:lookups"
	lookupWindow     = 24 * time.Hour
)

// CachingChecker memoizes bureau responses per client for a short window
// and meters live lookups against a per-tenant daily budget. Cache
// failures degrade to a direct lookup; a stale or missing entry never
// blocks the check.
type CachingChecker struct {
	next       domain.CreditChecker
	cache      domain.Cache
	ttl        time.Duration
	dailyLimit int
}

// NewCachingChecker wraps a checker with response memoization. A positive
// dailyLimit caps live lookups per tenant per day; zero disables metering.
func NewCachingChecker(next domain.CreditChecker, cache domain.Cache, ttl time.Duration, dailyLimit int) *CachingChecker {
	return &CachingChecker{next: next, cache: cache, ttl: ttl, dailyLimit: dailyLimit}
}

// Check returns the memoized result when present, otherwise delegates and
// stores the response. A live lookup past the daily budget fails; the
// assessment recovers it as a failed credit check.
func (c *CachingChecker) Check(ctx context.Context, tenantID string, req domain.CreditCheckRequest) (*domain.CreditCheckResult, error) {
	cached, err := c.cache.GetCreditResult(ctx, tenantID, req.ClientID)
	if err != nil {
		slog.Warn("bureau cache read failed", "client_id", req.ClientID, "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	if c.dailyLimit > 0 {
		count, err := c.cache.IncrementCounter(ctx, tenantID, lookupCounterKey, lookupWindow)
		if err != nil {
			slog.Warn("bureau lookup counter failed", "tenant_id", tenantID, "error", err)
		} else if count > int64(c.dailyLimit) {
			return nil, fmt.Errorf("bureau lookup budget exhausted: %d of %d daily lookups used", count-1, c.dailyLimit)
		}
	}

	result, err := c.next.Check(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetCreditResult(ctx, tenantID, req.ClientID, result, c.ttl); err != nil {
		slog.Warn("bureau cache write failed", "client_id", req.ClientID, "error", err)
	}
	return result, nil
}
