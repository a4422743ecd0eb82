package locking_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/locking"
)

func TestMemory_ExclusivePerKey(t *testing.T) {
	ctx := context.Background()
	m := locking.NewMemory()

	// GIVEN: A held lock on tpl-1
	lock, err := m.Obtain(ctx, "tpl-1")
	require.NoError(t, err)

	// THEN: tpl-1 is refused, tpl-2 is free
	_, err = m.Obtain(ctx, "tpl-1")
	assert.ErrorIs(t, err, locking.ErrNotObtained)
	other, err := m.Obtain(ctx, "tpl-2")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	// AND: Refreshing a held lock succeeds
	require.NoError(t, lock.Refresh(ctx))

	// WHEN: Released (twice)
	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Refresh(ctx), locking.ErrNotHeld)

	// THEN: It can be obtained again
	assert.False(t, m.Held("tpl-1"))
	again, err := m.Obtain(ctx, "tpl-1")
	require.NoError(t, err)
	assert.True(t, m.Held("tpl-1"))
	require.NoError(t, again.Release(ctx))
}

func TestMemory_OneWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	m := locking.NewMemory()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := m.Obtain(ctx, "tpl-1"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

// TestRedis runs against a live server when LEDGER_TEST_REDIS_ADDR is set.
func TestRedis(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	l := locking.NewRedis(rdb, "ledger-test:", 5*time.Second)

	lock, err := l.Obtain(ctx, t.Name())
	require.NoError(t, err)
	_, err = l.Obtain(ctx, t.Name())
	assert.ErrorIs(t, err, locking.ErrNotObtained)

	require.NoError(t, lock.Refresh(ctx))
	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Refresh(ctx), locking.ErrNotHeld)
	lock, err = l.Obtain(ctx, t.Name())
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}
