package fx

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
)

// DefaultCacheSize is the number of (pair, month) rates kept in memory.
const DefaultCacheSize = 1024

// =============================================================================
// EXPIRY POLICY
// =============================================================================

// ExpiryPolicy decides until when a rate fetched at now stays valid. A zero
// time means it never expires.
type ExpiryPolicy interface {
	ExpiresAt(month calendar.Date, now time.Time) time.Time
}

// MonthPolicy: closed months are final, the running month is refreshed daily,
// future months hourly.
type MonthPolicy struct {
	FutureTTL time.Duration // 0 = one hour
}

func (p MonthPolicy) ExpiresAt(month calendar.Date, now time.Time) time.Time {
	current := calendar.DateOf(now).StartOfMonth()
	switch {
	case month.Before(current):
		return time.Time{}
	case month.Equal(current):
		return calendar.DateOf(now).AddDays(1).Time
	default:
		ttl := p.FutureTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		return now.Add(ttl)
	}
}

// FixedTTL expires every rate after the same duration.
type FixedTTL time.Duration

func (d FixedTTL) ExpiresAt(_ calendar.Date, now time.Time) time.Time {
	return now.Add(time.Duration(d))
}

// =============================================================================
// CACHE
// =============================================================================

type cacheKey struct {
	base, quote string
	month       string
}

type cachedRate struct {
	rate      decimal.Decimal
	expiresAt time.Time
}

// Cache is a bounded, least-recently-used RateSource decorator.
type Cache struct {
	next   RateSource
	policy ExpiryPolicy
	lru    *lru.Cache[cacheKey, cachedRate]

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewCache wraps next. size <= 0 uses DefaultCacheSize; a nil policy uses
// MonthPolicy.
func NewCache(next RateSource, size int, policy ExpiryPolicy) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if policy == nil {
		policy = MonthPolicy{}
	}
	l, err := lru.New[cacheKey, cachedRate](size)
	if err != nil {
		return nil, err
	}
	return &Cache{next: next, policy: policy, lru: l, Now: time.Now}, nil
}

func (c *Cache) Rate(ctx context.Context, base, quote string, month calendar.Date) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	key := cacheKey{base: base, quote: quote, month: month.String()}
	now := c.Now().UTC()
	if hit, ok := c.lru.Get(key); ok {
		if hit.expiresAt.IsZero() || now.Before(hit.expiresAt) {
			return hit.rate, nil
		}
		c.lru.Remove(key)
	}

	rate, err := c.next.Rate(ctx, base, quote, month)
	if err != nil {
		return decimal.Zero, err
	}
	c.lru.Add(key, cachedRate{rate: rate, expiresAt: c.policy.ExpiresAt(month, now)})
	return rate, nil
}

// Len returns the number of cached rates, expired ones included.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge drops every cached rate.
func (c *Cache) Purge() { c.lru.Purge() }
