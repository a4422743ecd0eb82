/*
Package storetest is the conformance suite for ledger.Store implementations.

Every implementation runs the same cases from its own _test.go:
  func TestConformance(t *testing.T) {
      storetest.Run(t, func(t *testing.T, limit int) ledger.Store {
          return store.NewMemoryWithLimit(limit)
      })
  }

The factory must return an empty store whose BatchLimit() equals limit.
*/
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/recurrence"
)

// Factory builds an empty store with the given batch limit.
type Factory func(t *testing.T, limit int) ledger.Store

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"TemplateRoundTrip", testTemplateRoundTrip},
		{"TemplateNotFound", testTemplateNotFound},
		{"ListTemplatesByOwner", testListTemplatesByOwner},
		{"EntryRoundTrip", testEntryRoundTrip},
		{"UpsertInstance", testUpsertInstance},
		{"MergeInstance", testMergeInstance},
		{"DeleteInstance", testDeleteInstance},
		{"DeleteEntryAndTemplate", testDeleteEntryAndTemplate},
		{"QueryInstances", testQueryInstances},
		{"ListEntries", testListEntries},
		{"BatchTooLarge", testBatchTooLarge},
		{"BatchAtomic", testBatchAtomic},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) { c.fn(t, newStore) })
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

var created = time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)

func template(id ledger.TemplateID, owner ledger.UserID) ledger.Template {
	return ledger.Template{
		ID:      id,
		OwnerID: owner,
		Entry: ledger.EntryTemplate{
			Type:        ledger.Expense,
			Amount:      decimal.RequireFromString("12.34"),
			Currency:    "EUR",
			Category:    ledger.CategorySubscriptions,
			Description: "streaming",
		},
		Recurrence: recurrence.Rule{
			Frequency:  recurrence.Weekly,
			Interval:   2,
			EndDate:    calendar.MustParse("2025-12-31"),
			DaysOfWeek: []time.Weekday{time.Monday, time.Friday},
		},
		StartDate:           calendar.MustParse("2025-01-06"),
		InstancesCreated:    3,
		MaterializedThrough: calendar.MustParse("2025-12-31"),
		CreatedBy:           owner,
		CreatedAt:           created,
	}
}

func instance(tpl ledger.Template, day string) ledger.Entry {
	return tpl.Instance(calendar.MustParse(day), created)
}

func commit(t *testing.T, s ledger.Store, ops ...ledger.Op) {
	t.Helper()
	require.NoError(t, s.Commit(context.Background(), ops))
}

func ids(entries []ledger.Entry) []ledger.EntryID {
	out := make([]ledger.EntryID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// =============================================================================
// CASES
// =============================================================================

func testTemplateRoundTrip(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	ctx := context.Background()

	tpl := template("tpl-1", "alice")
	updated := created.Add(time.Hour)
	tpl.UpdatedAt = &updated
	commit(t, s, ledger.PutTemplate(tpl))

	got, err := s.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.ID)
	assert.Equal(t, tpl.OwnerID, got.OwnerID)
	assert.Equal(t, tpl.Entry.Type, got.Entry.Type)
	assert.True(t, tpl.Entry.Amount.Equal(got.Entry.Amount), "amount %s", got.Entry.Amount)
	assert.Equal(t, tpl.Entry.Currency, got.Entry.Currency)
	assert.Equal(t, tpl.Entry.Category, got.Entry.Category)
	assert.Equal(t, tpl.Entry.Description, got.Entry.Description)
	assert.Equal(t, tpl.Recurrence.Frequency, got.Recurrence.Frequency)
	assert.Equal(t, tpl.Recurrence.Interval, got.Recurrence.Interval)
	assert.Equal(t, tpl.Recurrence.DaysOfWeek, got.Recurrence.DaysOfWeek)
	assert.Equal(t, tpl.Recurrence.EndDate.String(), got.Recurrence.EndDate.String())
	assert.Equal(t, tpl.StartDate.String(), got.StartDate.String())
	assert.Equal(t, 3, got.InstancesCreated)
	assert.Equal(t, "2025-12-31", got.MaterializedThrough.String())
	assert.True(t, got.Complete())
	assert.Equal(t, tpl.CreatedBy, got.CreatedBy)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, updated.Equal(*got.UpdatedAt))

	// Put replaces
	tpl.Entry.Amount = decimal.RequireFromString("15")
	tpl.Recurrence = recurrence.Rule{Frequency: recurrence.Monthly, Interval: 1, DayOfMonth: 31, EndDate: calendar.MustParse("2026-01-31")}
	commit(t, s, ledger.PutTemplate(tpl))

	got, err = s.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "15", got.Entry.Amount.String())
	assert.Equal(t, 31, got.Recurrence.DayOfMonth)
	assert.Nil(t, got.Recurrence.DaysOfWeek)

	// A pending watermark reads back as zero
	tpl.MaterializedThrough = calendar.Date{}
	commit(t, s, ledger.PutTemplate(tpl))

	got, err = s.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.True(t, got.MaterializedThrough.IsZero())
	assert.False(t, got.Complete())
}

func testTemplateNotFound(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)

	_, err := s.GetTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrTemplateNotFound)

	_, err = s.GetEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func testListTemplatesByOwner(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)

	first := template("tpl-a", "alice")
	second := template("tpl-b", "alice")
	second.CreatedAt = created.Add(time.Minute)
	other := template("tpl-c", "bob")
	commit(t, s, ledger.PutTemplate(second), ledger.PutTemplate(other), ledger.PutTemplate(first))

	got, err := s.ListTemplates(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ledger.TemplateID("tpl-a"), got[0].ID)
	assert.Equal(t, ledger.TemplateID("tpl-b"), got[1].ID)
}

func testEntryRoundTrip(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	tpl := template("tpl-1", "alice")

	e := instance(tpl, "2025-01-06")
	e.Date = calendar.MustParse("2025-01-07")
	e.State = e.State.Modify()
	commit(t, s, ledger.PutEntry(e))

	got, err := s.GetEntry(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.InstanceID("tpl-1", calendar.MustParse("2025-01-06")), got.ID)
	assert.Equal(t, "2025-01-07", got.Date.String())
	assert.Equal(t, "2025-01-06", got.OriginalDate.String())
	assert.Equal(t, ledger.TemplateID("tpl-1"), got.TemplateID)
	assert.True(t, got.IsRecurringInstance())
	assert.True(t, got.IsModified())
	assert.True(t, e.Amount.Equal(got.Amount))

	free := ledger.Entry{
		ID: "free-1", OwnerID: "alice", Type: ledger.Income,
		Amount: decimal.RequireFromString("2500.50"), Currency: "USD",
		Category: ledger.CategorySalary, Date: calendar.MustParse("2025-01-31"),
		CreatedAt: created, UpdatedAt: created,
	}
	commit(t, s, ledger.PutEntry(free))

	got, err = s.GetEntry(context.Background(), "free-1")
	require.NoError(t, err)
	assert.False(t, got.IsRecurringInstance())
	assert.False(t, got.IsModified())
	assert.True(t, got.OriginalDate.IsZero())
	assert.Equal(t, "2500.5", got.Amount.String())
}

func testUpsertInstance(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	ctx := context.Background()
	tpl := template("tpl-1", "alice")

	owned := instance(tpl, "2025-01-06")
	edited := instance(tpl, "2025-01-10")
	edited.Amount = decimal.RequireFromString("99")
	edited.State = edited.State.Modify()
	commit(t, s, ledger.UpsertInstance(owned), ledger.PutEntry(edited))

	// Re-upsert both with a new amount
	tpl.Entry.Amount = decimal.RequireFromString("20")
	commit(t, s, ledger.UpsertInstance(instance(tpl, "2025-01-06")), ledger.UpsertInstance(instance(tpl, "2025-01-10")))

	got, err := s.GetEntry(ctx, owned.ID)
	require.NoError(t, err)
	assert.Equal(t, "20", got.Amount.String(), "template-owned row is overwritten")

	got, err = s.GetEntry(ctx, edited.ID)
	require.NoError(t, err)
	assert.Equal(t, "99", got.Amount.String(), "user-owned row is left alone")
	assert.True(t, got.IsModified())

	n, err := s.CountInstances(ctx, ledger.InstanceQuery{TemplateID: "tpl-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "upsert never duplicates")
}

func testMergeInstance(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	ctx := context.Background()
	tpl := template("tpl-1", "alice")

	owned := instance(tpl, "2025-01-06")
	edited := instance(tpl, "2025-01-10")
	edited.Description = "mine"
	edited.State = edited.State.Modify()
	commit(t, s, ledger.PutEntry(owned), ledger.PutEntry(edited))

	tpl.Entry.Amount = decimal.RequireFromString("30")
	tpl.Entry.Description = "price rise"
	tpl.Entry.Category = ledger.CategoryEntertainment
	later := created.Add(24 * time.Hour)
	commit(t, s,
		ledger.MergeInstance(tpl.Instance(owned.OriginalDate, later)),
		ledger.MergeInstance(tpl.Instance(edited.OriginalDate, later)),
		ledger.MergeInstance(instance(tpl, "2025-01-13")), // never existed
	)

	got, err := s.GetEntry(ctx, owned.ID)
	require.NoError(t, err)
	assert.Equal(t, "30", got.Amount.String())
	assert.Equal(t, "price rise", got.Description)
	assert.Equal(t, ledger.CategoryEntertainment, got.Category)
	assert.Equal(t, "2025-01-06", got.Date.String())
	assert.False(t, got.IsModified())
	assert.True(t, later.Equal(got.UpdatedAt))

	got, err = s.GetEntry(ctx, edited.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Description)
	assert.Equal(t, "12.34", got.Amount.String())

	_, err = s.GetEntry(ctx, ledger.InstanceID("tpl-1", calendar.MustParse("2025-01-13")))
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound, "merge must not create rows")
}

func testDeleteInstance(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	ctx := context.Background()
	tpl := template("tpl-1", "alice")

	owned := instance(tpl, "2025-01-06")
	edited := instance(tpl, "2025-01-10")
	edited.State = edited.State.Modify()
	commit(t, s, ledger.PutEntry(owned), ledger.PutEntry(edited))

	commit(t, s, ledger.DeleteInstance(owned.ID), ledger.DeleteInstance(edited.ID), ledger.DeleteInstance("nope"))

	_, err := s.GetEntry(ctx, owned.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
	_, err = s.GetEntry(ctx, edited.ID)
	assert.NoError(t, err, "user-owned instance survives")
}

func testDeleteEntryAndTemplate(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	ctx := context.Background()
	tpl := template("tpl-1", "alice")

	edited := instance(tpl, "2025-01-10")
	edited.State = edited.State.Modify()
	commit(t, s, ledger.PutTemplate(tpl), ledger.PutEntry(edited))

	commit(t, s, ledger.DeleteTemplate(tpl.ID), ledger.DeleteEntry(edited.ID))

	_, err := s.GetTemplate(ctx, tpl.ID)
	assert.ErrorIs(t, err, ledger.ErrTemplateNotFound)
	_, err = s.GetEntry(ctx, edited.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func testQueryInstances(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	ctx := context.Background()
	tpl := template("tpl-1", "alice")
	other := template("tpl-2", "alice")

	days := []string{"2025-01-06", "2025-01-10", "2025-01-20", "2025-01-24", "2025-02-03"}
	var ops []ledger.Op
	for i := len(days) - 1; i >= 0; i-- {
		e := instance(tpl, days[i])
		if days[i] == "2025-01-24" {
			e.State = e.State.Modify()
		}
		ops = append(ops, ledger.PutEntry(e))
	}
	ops = append(ops, ledger.PutEntry(instance(other, "2025-01-20")))
	commit(t, s, ops...)

	all, err := s.QueryInstances(ctx, ledger.InstanceQuery{TemplateID: "tpl-1"})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, e := range all {
		assert.Equal(t, days[i], e.Date.String(), "ascending by date")
	}

	from, err := s.QueryInstances(ctx, ledger.InstanceQuery{TemplateID: "tpl-1", From: calendar.MustParse("2025-01-20")})
	require.NoError(t, err)
	assert.Len(t, from, 3, "From is inclusive")

	after, err := s.QueryInstances(ctx, ledger.InstanceQuery{TemplateID: "tpl-1", After: calendar.MustParse("2025-01-20"), Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1, "After is exclusive, limit applies")
	assert.Equal(t, "2025-01-24", after[0].Date.String())

	owned, err := s.QueryInstances(ctx, ledger.InstanceQuery{TemplateID: "tpl-1", OnlyTemplateOwned: true})
	require.NoError(t, err)
	assert.Len(t, owned, 4)
	assert.NotContains(t, ids(owned), ledger.InstanceID("tpl-1", calendar.MustParse("2025-01-24")))

	n, err := s.CountInstances(ctx, ledger.InstanceQuery{TemplateID: "tpl-1", After: calendar.MustParse("2025-01-10")})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountInstances(ctx, ledger.InstanceQuery{TemplateID: "tpl-1", From: calendar.MustParse("2025-01-10"), OnlyTemplateOwned: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testListEntries(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	tpl := template("tpl-1", "alice")

	free := ledger.Entry{
		ID: "free-1", OwnerID: "alice", Type: ledger.Expense,
		Amount: decimal.NewFromInt(5), Currency: "EUR", Category: ledger.CategoryFood,
		Date: calendar.MustParse("2025-01-15"), CreatedAt: created, UpdatedAt: created,
	}
	bobs := free
	bobs.ID, bobs.OwnerID = "free-2", "bob"
	commit(t, s,
		ledger.PutEntry(instance(tpl, "2025-01-06")),
		ledger.PutEntry(instance(tpl, "2025-02-03")),
		ledger.PutEntry(free),
		ledger.PutEntry(bobs),
	)

	got, err := s.ListEntries(context.Background(), "alice", calendar.MustParse("2025-01-06"), calendar.MustParse("2025-01-31"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-01-06", got[0].Date.String())
	assert.Equal(t, ledger.EntryID("free-1"), got[1].ID)
}

func testBatchTooLarge(t *testing.T, newStore Factory) {
	s := newStore(t, 2)
	require.Equal(t, 2, s.BatchLimit())
	tpl := template("tpl-1", "alice")

	err := s.Commit(context.Background(), []ledger.Op{
		ledger.PutEntry(instance(tpl, "2025-01-06")),
		ledger.PutEntry(instance(tpl, "2025-01-10")),
		ledger.PutEntry(instance(tpl, "2025-01-20")),
	})
	assert.ErrorIs(t, err, ledger.ErrBatchTooLarge)

	n, err := s.CountInstances(context.Background(), ledger.InstanceQuery{TemplateID: "tpl-1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testBatchAtomic(t *testing.T, newStore Factory) {
	s := newStore(t, ledger.DefaultBatchLimit)
	tpl := template("tpl-1", "alice")

	err := s.Commit(context.Background(), []ledger.Op{
		ledger.PutTemplate(tpl),
		ledger.PutEntry(instance(tpl, "2025-01-06")),
		{Kind: ledger.OpPutTemplate}, // malformed: no template
	})
	require.Error(t, err)

	_, err = s.GetTemplate(context.Background(), tpl.ID)
	assert.ErrorIs(t, err, ledger.ErrTemplateNotFound, "nothing from a failed batch is applied")
	n, err := s.CountInstances(context.Background(), ledger.InstanceQuery{TemplateID: "tpl-1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}
