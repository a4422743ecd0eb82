package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/ledger/store"
	"github.com/warp/expense-ledger/ledger/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, limit int) ledger.Store {
		return store.NewMemoryWithLimit(limit)
	})
}

func TestMemory_FailCommitLeavesStoreUntouched(t *testing.T) {
	// GIVEN: A store that rejects its second commit
	s := store.NewMemory()
	s.FailCommit = func(commit int, _ []ledger.Op) error {
		if commit == 1 {
			return errors.New("unavailable")
		}
		return nil
	}
	ctx := context.Background()

	// WHEN: Committing twice
	require.NoError(t, s.Commit(ctx, []ledger.Op{ledger.PutEntry(ledger.Entry{ID: "e1", OwnerID: "alice"})}))
	err := s.Commit(ctx, []ledger.Op{ledger.PutEntry(ledger.Entry{ID: "e2", OwnerID: "alice"})})

	// THEN: Only the first commit is visible
	require.EqualError(t, err, "unavailable")
	_, err = s.GetEntry(ctx, "e1")
	assert.NoError(t, err)
	_, err = s.GetEntry(ctx, "e2")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
	assert.Equal(t, []int{1}, s.CommitSizes())
}

func TestMemory_Reset(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, []ledger.Op{ledger.PutEntry(ledger.Entry{ID: "e1", OwnerID: "alice"})}))

	s.Reset()

	_, err := s.GetEntry(ctx, "e1")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
	assert.Empty(t, s.CommitSizes())
}
