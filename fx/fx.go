/*
Package fx converts amounts between currencies for aggregate views.

PURPOSE:
  Entries keep their original amount and currency. Views that total several
  currencies (upcoming recurring spend) convert through a RateSource at the
  rate of the entry's month.

KEY CONCEPTS:
  - RateSource: (base, quote, month) -> rate
  - Cache: an injected, bounded RateSource decorator whose expiry is decided
    by an ExpiryPolicy
  - MonthPolicy: past months never expire, the current month expires at the
    next UTC midnight, future months after an hour
  - Converter: amount conversion on top of any RateSource

SOURCES:
  StaticSource serves configured rates. RedisSource shares fetched rates
  between processes. A live exchange-rate HTTP integration plugs in behind
  the same interface.

SEE ALSO:
  - cache.go: LRU cache and expiry policies
  - series/aggregate.go: Upcoming totals
*/
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
)

// ErrRateUnavailable is returned when no rate is known for a pair.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RateSource returns how many units of quote one unit of base buys during
// month. month is always the first day of a month.
type RateSource interface {
	Rate(ctx context.Context, base, quote string, month calendar.Date) (decimal.Decimal, error)
}

// =============================================================================
// STATIC SOURCE
// =============================================================================

// StaticSource serves fixed rates keyed "BASE/QUOTE". Inverse pairs are
// derived when only one direction is configured.
type StaticSource struct {
	rates map[string]decimal.Decimal
}

// NewStaticSource parses rates such as {"EUR/USD": "1.08"}.
func NewStaticSource(rates map[string]string) (*StaticSource, error) {
	s := &StaticSource{rates: make(map[string]decimal.Decimal, len(rates))}
	for pair, raw := range rates {
		base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(pair)), "/")
		if !ok || len(base) != 3 || len(quote) != 3 {
			return nil, fmt.Errorf("fx: bad pair %q, want BASE/QUOTE", pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("fx: bad rate %q for %s", raw, pair)
		}
		s.rates[base+"/"+quote] = rate
	}
	return s, nil
}

func (s *StaticSource) Rate(_ context.Context, base, quote string, _ calendar.Date) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := s.rates[base+"/"+quote]; ok {
		return r, nil
	}
	if r, ok := s.rates[quote+"/"+base]; ok {
		return decimal.NewFromInt(1).DivRound(r, 10), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, base, quote)
}

// =============================================================================
// CONVERTER
// =============================================================================

type Converter struct {
	rates RateSource
}

func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert returns amount (in from) expressed in to, at the rate of on's month.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, on calendar.Date) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate, err := c.rates.Rate(ctx, from, to, on.StartOfMonth())
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}
