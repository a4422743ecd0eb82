package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/expense-ledger/config"
	"github.com/warp/expense-ledger/fx"
	"github.com/warp/expense-ledger/ledger"
	memstore "github.com/warp/expense-ledger/ledger/store"
	"github.com/warp/expense-ledger/locking"
	"github.com/warp/expense-ledger/store/gormstore"
	"github.com/warp/expense-ledger/store/sqlite"
)

// openStore returns the store for c.Driver and a func that closes it.
func openStore(c config.StoreConfig, log logrus.FieldLogger) (ledger.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.Driver {
	case "memory":
		return memstore.NewMemoryWithLimit(c.BatchLimit), noop, nil

	case "sqlite":
		s, err := sqlite.New(c.DSN, sqlite.WithBatchLimit(c.BatchLimit))
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil

	case "postgres", "mysql":
		dialector, err := gormstore.Dialector(c.Driver, c.DSN)
		if err != nil {
			return nil, noop, err
		}
		opts := []gormstore.Option{
			gormstore.WithBatchLimit(c.BatchLimit),
			gormstore.WithLogger(log.WithField("module", "gorm")),
			gormstore.WithMaxOpenConns(c.MaxOpenConns),
		}
		if c.Tracing {
			opts = append(opts, gormstore.WithTracing())
		}
		s, err := gormstore.Open(dialector, opts...)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown store driver %q", c.Driver)
}

// openRedis connects when c.Addr is set. A nil client means in-process
// locking and no shared rate cache.
func openRedis(ctx context.Context, c config.RedisConfig, log logrus.FieldLogger) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		config.LogError(log, "main", "openRedis", "ping", c.Addr, err)
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func newLocker(c config.RedisConfig, rdb *redis.Client) locking.Locker {
	if rdb == nil {
		return locking.NewMemory()
	}
	return locking.NewRedis(rdb, c.Prefix, c.LockTTL)
}

// newConverter stacks the rate sources: in-process LRU, then Redis when
// configured, then the static table from config.
func newConverter(cfg *config.Config, rdb *redis.Client, log logrus.FieldLogger) (*fx.Converter, error) {
	static, err := fx.NewStaticSource(cfg.FX.Rates)
	if err != nil {
		return nil, err
	}

	var source fx.RateSource = static
	if rdb != nil {
		source = fx.NewRedisSource(rdb, source, fx.MonthPolicy{}, cfg.Redis.Prefix, log.WithField("module", "fx"))
	}
	cache, err := fx.NewCache(source, cfg.FX.CacheSize, fx.MonthPolicy{})
	if err != nil {
		return nil, err
	}
	return fx.NewConverter(cache), nil
}
