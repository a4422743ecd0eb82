package gormstore_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/ledger/storetest"
	"github.com/warp/expense-ledger/store/gormstore"
)

func open(t *testing.T, opts ...gormstore.Option) *gormstore.Store {
	t.Helper()
	dialector, err := gormstore.Dialector("sqlite", ":memory:")
	require.NoError(t, err)

	// One connection: an in-memory SQLite database lives per connection.
	s, err := gormstore.Open(dialector, append(opts, gormstore.WithMaxOpenConns(1))...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGorm_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, limit int) ledger.Store {
		return open(t, gormstore.WithBatchLimit(limit))
	})
}

func TestGorm_Dialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := gormstore.Dialector(driver, "dsn")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := gormstore.Dialector("oracle", "dsn")
	assert.Error(t, err)
}

func TestGorm_OpenWithLoggerAndTracing(t *testing.T) {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.WarnLevel)

	s := open(t, gormstore.WithLogger(log), gormstore.WithTracing())

	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, ledger.DefaultBatchLimit, s.BatchLimit())
}
