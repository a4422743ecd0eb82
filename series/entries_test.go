package series_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/locking"
	"github.com/warp/expense-ledger/series"
)

func TestEditEntry_TransfersOwnership(t *testing.T) {
	// GIVEN: A template-owned instance
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))
	key := ledger.InstanceID(id, date("2025-03-24"))

	// WHEN: The user moves it and changes the description
	moved := date("2025-03-25")
	desc := "paid late"
	got, err := f.svc.EditEntry(f.ctx, key, series.EntryPatch{Date: &moved, Description: &desc})
	require.NoError(t, err)

	// THEN: It is user-owned, keyed and anchored as before
	assert.True(t, got.IsModified())
	assert.Equal(t, ledger.UserOwned, got.State)
	assert.Equal(t, key, got.ID)
	assert.Equal(t, "2025-03-24", got.OriginalDate.String())
	assert.Equal(t, "2025-03-25", got.Date.String())
	assert.Equal(t, id, got.TemplateID)
}

func TestEditEntry_Rejects(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))
	key := ledger.InstanceID(id, date("2025-03-24"))

	_, err := f.svc.EditEntry(f.ctx, key, series.EntryPatch{})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)

	zero := decimal.Zero
	_, err = f.svc.EditEntry(f.ctx, key, series.EntryPatch{Amount: &zero})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
	assert.False(t, f.instance(t, id, "2025-03-24").IsModified(), "rejected edit left no trace")

	one := decimal.NewFromInt(1)
	_, err = f.svc.EditEntry(f.ctx, "missing", series.EntryPatch{Amount: &one})
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestCreateEntry_IsStandalone(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.CreateEntry(f.ctx, ledger.Entry{
		OwnerID:      "alice",
		Type:         ledger.Expense,
		Amount:       decimal.RequireFromString("3.20"),
		Currency:     "EUR",
		Category:     ledger.CategoryFood,
		Date:         date("2025-03-20"),
		TemplateID:   "sneaky",
		OriginalDate: date("2025-03-01"),
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.EntryID("id-1"), got.ID)
	assert.False(t, got.IsRecurringInstance())
	assert.True(t, got.OriginalDate.IsZero())

	list, err := f.svc.ListEntries(f.ctx, "alice", date("2025-03-01"), date("2025-03-31"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, got.ID, list[0].ID)
}

func TestListEntries_MixesOneOffsAndInstances(t *testing.T) {
	f := newFixture(t)
	f.create(t, weeklyTemplate("tpl-1"))
	_, err := f.svc.CreateEntry(f.ctx, ledger.Entry{
		OwnerID:  "alice",
		Type:     ledger.Expense,
		Amount:   decimal.NewFromInt(40),
		Currency: "EUR",
		Category: ledger.CategoryTransport,
		Date:     date("2025-03-11"),
	})
	require.NoError(t, err)

	list, err := f.svc.ListEntries(f.ctx, "alice", date("2025-03-10"), date("2025-03-17"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-10", "2025-03-11", "2025-03-17"}, dates(list))

	_, err = f.svc.ListEntries(f.ctx, "alice", date("2025-03-17"), date("2025-03-10"))
	assert.True(t, ledger.IsClientError(err))
}

func TestInstances(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))

	got, err := f.svc.Instances(f.ctx, id)
	require.NoError(t, err)
	assert.Len(t, got, 7)

	_, err = f.svc.Instances(f.ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrTemplateNotFound)
}

func TestSeriesOperations_FailFastWhenLocked(t *testing.T) {
	// GIVEN: Another operation holds the template
	locker := locking.NewMemory()
	f := newFixture(t, series.WithLocker(locker))
	id := f.create(t, weeklyTemplate("tpl-1"))
	held, err := locker.Obtain(f.ctx, "template:tpl-1")
	require.NoError(t, err)

	// WHEN/THEN: Every series mutation is refused as retryable
	_, err = f.svc.Create(f.ctx, weeklyTemplate("tpl-1"))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))

	_, err = f.svc.EditTemplate(f.ctx, id, update(weeklyTemplate(id)))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	_, err = f.svc.Stop(f.ctx, id)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	_, err = f.svc.DeleteAll(f.ctx, id)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	// AND: Nothing changed, and the lock works again once released
	assert.Len(t, f.instances(t, id), 7)
	require.NoError(t, held.Release(f.ctx))
	assert.False(t, locker.Held("template:tpl-1"))
	_, err = f.svc.Stop(f.ctx, id)
	assert.NoError(t, err)
}
