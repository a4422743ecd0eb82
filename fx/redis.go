package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/expense-ledger/calendar"
)

// RedisSource shares rates between processes. Misses fall through to next and
// are written back with the policy's expiry. Redis failures are logged and
// bypassed; they never fail a conversion.
type RedisSource struct {
	rdb    redis.UniversalClient
	next   RateSource
	policy ExpiryPolicy
	prefix string
	log    logrus.FieldLogger

	Now func() time.Time
}

func NewRedisSource(rdb redis.UniversalClient, next RateSource, policy ExpiryPolicy, prefix string, log logrus.FieldLogger) *RedisSource {
	if policy == nil {
		policy = MonthPolicy{}
	}
	return &RedisSource{rdb: rdb, next: next, policy: policy, prefix: prefix, log: log, Now: time.Now}
}

func (s *RedisSource) key(base, quote string, month calendar.Date) string {
	return fmt.Sprintf("%sfx:%s:%s:%s", s.prefix, base, quote, month.Time.Format("2006-01"))
}

func (s *RedisSource) Rate(ctx context.Context, base, quote string, month calendar.Date) (decimal.Decimal, error) {
	key := s.key(base, quote, month)

	val, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, perr := decimal.NewFromString(val); perr == nil {
			return rate, nil
		}
		s.log.WithField("key", key).Warn("fx: discarding malformed cached rate")
	case !errors.Is(err, redis.Nil):
		s.log.WithError(err).WithField("key", key).Warn("fx: redis read failed")
	}

	rate, err := s.next.Rate(ctx, base, quote, month)
	if err != nil {
		return decimal.Zero, err
	}

	now := s.Now().UTC()
	var ttl time.Duration
	if exp := s.policy.ExpiresAt(month, now); !exp.IsZero() {
		ttl = exp.Sub(now)
		if ttl <= 0 {
			return rate, nil
		}
	}
	if err := s.rdb.Set(ctx, key, rate.String(), ttl).Err(); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("fx: redis write failed")
	}
	return rate, nil
}
