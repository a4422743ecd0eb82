package series_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/ledger/store"
	"github.com/warp/expense-ledger/recurrence"
)

func TestEditTemplate_PreservesUserEdits(t *testing.T) {
	// GIVEN: A weekly series where the user changed 03-31 to 5
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))
	f.modify(t, id, "2025-03-31", "5")

	// WHEN: The template amount changes to 12.50
	tpl := weeklyTemplate(id)
	tpl.Entry.Amount = decimal.RequireFromString("12.50")
	touched, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	// THEN: Future template-owned instances carry the new amount
	assert.Equal(t, 3, touched)
	for _, day := range []string{"2025-03-24", "2025-04-07", "2025-04-14"} {
		assert.Equal(t, "12.5", f.instance(t, id, day).Amount.String(), day)
	}

	// AND: The user edit is untouched
	edited := f.instance(t, id, "2025-03-31")
	assert.Equal(t, "5", edited.Amount.String())
	assert.True(t, edited.IsModified())

	// AND: The past is untouched
	for _, day := range []string{"2025-03-03", "2025-03-10", "2025-03-17"} {
		assert.Equal(t, "9.99", f.instance(t, id, day).Amount.String(), day)
	}

	// AND: The template remembers the new blueprint
	stored, err := f.svc.GetTemplate(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "12.5", stored.Entry.Amount.String())
	assert.Equal(t, 3, stored.InstancesCreated)
	require.NotNil(t, stored.UpdatedAt)
}

func TestEditTemplate_DoesNotResurrectDeletedInstances(t *testing.T) {
	// GIVEN: The user deleted the 04-07 instance
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))
	require.NoError(t, f.svc.DeleteEntry(f.ctx, ledger.InstanceID(id, date("2025-04-07"))))

	// WHEN: The template is edited
	tpl := weeklyTemplate(id)
	tpl.Entry.Description = "music family plan"
	touched, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	// THEN: 04-07 stays deleted
	assert.Equal(t, 3, touched)
	_, err = f.store.GetEntry(f.ctx, ledger.InstanceID(id, date("2025-04-07")))
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
	assert.Len(t, f.instances(t, id), 6)
}

func TestEditTemplate_ExtendsSeries(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))

	tpl := weeklyTemplate(id)
	tpl.Recurrence.EndDate = date("2025-04-28")
	touched, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	assert.Equal(t, 6, touched, "4 merged, 2 created")
	got := f.instances(t, id)
	require.Len(t, got, 9)
	assert.Equal(t, "2025-04-28", got[8].Date.String())
}

func TestEditTemplate_ShortensSeries(t *testing.T) {
	// GIVEN: A series whose 04-14 instance was edited by the user
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))
	f.modify(t, id, "2025-04-14", "1")

	// WHEN: The end date moves to 03-31
	tpl := weeklyTemplate(id)
	tpl.Recurrence.EndDate = date("2025-03-31")
	touched, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	// THEN: 04-07 is gone, the edited 04-14 survives
	assert.Equal(t, 2, touched)
	assert.Equal(t, []string{
		"2025-03-03", "2025-03-10", "2025-03-17", "2025-03-24", "2025-03-31", "2025-04-14",
	}, dates(f.instances(t, id)))
}

func TestEditTemplate_MovesToOtherWeekday(t *testing.T) {
	// GIVEN: A Monday series
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))

	// WHEN: It switches to Wednesdays
	tpl := weeklyTemplate(id)
	tpl.Recurrence.DaysOfWeek = []time.Weekday{time.Wednesday}
	touched, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	// THEN: Past Mondays stay, future Mondays become Wednesdays
	assert.Equal(t, 3, touched)
	assert.Equal(t, []string{
		"2025-03-03", "2025-03-10", "2025-03-17", "2025-03-26", "2025-04-02", "2025-04-09",
	}, dates(f.instances(t, id)))
}

func TestRegenerate_FromExplicitDate(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))

	tpl := weeklyTemplate(id)
	tpl.Entry.Amount = decimal.RequireFromString("11")
	touched, err := f.svc.Regenerate(f.ctx, id, update(tpl), date("2025-03-10"))
	require.NoError(t, err)

	assert.Equal(t, 6, touched)
	assert.Equal(t, "9.99", f.instance(t, id, "2025-03-03").Amount.String())
	assert.Equal(t, "11", f.instance(t, id, "2025-03-10").Amount.String())
}

func TestRegenerate_Errors(t *testing.T) {
	t.Run("missing template", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.EditTemplate(f.ctx, "nope", update(weeklyTemplate("nope")))

		assert.ErrorIs(t, err, ledger.ErrTemplateNotFound)
		assert.True(t, ledger.IsNotFound(err))
		assert.Contains(t, err.Error(), "failed to update recurring entries")
	})

	t.Run("invalid rule writes nothing", func(t *testing.T) {
		f := newFixture(t)
		id := f.create(t, weeklyTemplate("tpl-1"))
		commits := len(f.store.CommitSizes())

		tpl := weeklyTemplate(id)
		tpl.Recurrence.Frequency = recurrence.Frequency("hourly")
		_, err := f.svc.EditTemplate(f.ctx, id, update(tpl))

		assert.ErrorIs(t, err, recurrence.ErrInvalidRule)
		assert.Len(t, f.store.CommitSizes(), commits)
	})
}

func TestRegenerate_TemplateWrittenFirst(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))

	var first ledger.Op
	f.store.FailCommit = func(commit int, ops []ledger.Op) error {
		first = ops[0]
		return nil
	}
	tpl := weeklyTemplate(id)
	tpl.Recurrence.EndDate = date("2025-03-24")
	_, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	assert.Equal(t, ledger.OpPutTemplate, first.Kind)
}

func TestEditTemplate_ExtendsLongFinishedSeries(t *testing.T) {
	// GIVEN: A daily series that ran through Q1 2023, two years ago
	f := newFixture(t)
	tpl := weeklyTemplate("tpl-1")
	tpl.Recurrence = recurrence.Rule{Frequency: recurrence.Daily, Interval: 1, EndDate: date("2023-03-31")}
	tpl.StartDate = date("2023-01-01")
	id := f.create(t, tpl)
	require.Len(t, f.instances(t, id), 90)

	// WHEN: It is extended to the end of April 2025, more than 500 days
	// after its start
	tpl.Recurrence.EndDate = date("2025-04-30")
	touched, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	// THEN: Every day from today on exists
	assert.Equal(t, 42, touched)
	future, err := f.svc.RemainingCount(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 41, future, "after today")
	assert.Equal(t, "2025-03-20", f.instance(t, id, "2025-03-20").Date.String())
	assert.Equal(t, "2025-04-30", f.instance(t, id, "2025-04-30").Date.String())
	assert.Len(t, f.instances(t, id), 132)

	stored, err := f.svc.GetTemplate(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Complete())
}

func TestRegenerate_HealsPartialCreate(t *testing.T) {
	// GIVEN: A create whose second batch failed: 03-03 and 03-10 were written
	mem := store.NewMemoryWithLimit(3)
	failing := true
	mem.FailCommit = func(commit int, _ []ledger.Op) error {
		if failing && commit == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}
	f := newFixtureWithStore(t, mem)
	_, err := f.svc.Create(f.ctx, weeklyTemplate("tpl-1"))
	require.Error(t, err)
	failing = false
	require.Equal(t, []string{"2025-03-03", "2025-03-10"}, dates(f.instances(t, "tpl-1")))

	// WHEN: The template is edited from today
	touched, err := f.svc.EditTemplate(f.ctx, "tpl-1", update(weeklyTemplate("tpl-1")))
	require.NoError(t, err)

	// THEN: The never-written future instances are created, not treated as
	// deleted; the unwritten 03-17 before today keeps the series incomplete
	assert.Equal(t, 4, touched)
	assert.Equal(t, []string{
		"2025-03-03", "2025-03-10", "2025-03-24", "2025-03-31", "2025-04-07", "2025-04-14",
	}, dates(f.instances(t, "tpl-1")))
	stored, err := f.svc.GetTemplate(f.ctx, "tpl-1")
	require.NoError(t, err)
	assert.False(t, stored.Complete())

	// WHEN: Regenerated from the start date
	touched, err = f.svc.Regenerate(f.ctx, "tpl-1", update(weeklyTemplate("tpl-1")), date("2025-03-03"))
	require.NoError(t, err)

	// THEN: The series is whole
	assert.Equal(t, 7, touched)
	assert.Len(t, f.instances(t, "tpl-1"), 7)
	stored, err = f.svc.GetTemplate(f.ctx, "tpl-1")
	require.NoError(t, err)
	assert.True(t, stored.Complete())
}

func TestRegenerate_FailedEditIsHealedByRetry(t *testing.T) {
	// GIVEN: An extension to 05-26 whose second batch fails
	mem := store.NewMemoryWithLimit(3)
	f := newFixtureWithStore(t, mem)
	id := f.create(t, weeklyTemplate("tpl-1"))
	start := len(mem.CommitSizes())
	failing := true
	mem.FailCommit = func(commit int, _ []ledger.Op) error {
		if failing && commit == start+1 {
			return errors.New("store unavailable")
		}
		return nil
	}

	tpl := weeklyTemplate(id)
	tpl.Recurrence.EndDate = date("2025-05-26")
	_, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	var partial *ledger.PartialWriteError
	require.ErrorAs(t, err, &partial)
	failing = false

	// WHEN: The same edit is retried
	_, err = f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	// THEN: Every Monday through 05-26 exists
	assert.Len(t, f.instances(t, id), 13)
	stored, err := f.svc.GetTemplate(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Complete())
}

func TestEditTemplate_KeepsStoredEndDate(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))

	tpl := weeklyTemplate(id)
	tpl.Entry.Amount = decimal.RequireFromString("10")
	tpl.Recurrence.EndDate = calendar.Date{}
	touched, err := f.svc.EditTemplate(f.ctx, id, update(tpl))
	require.NoError(t, err)

	assert.Equal(t, 4, touched)
	stored, err := f.svc.GetTemplate(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2025-04-14", stored.Recurrence.EndDate.String())
	assert.Len(t, f.instances(t, id), 7)
}
