package series_test

import (
	"context"
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

func TestCreate_MaterializesEveryOccurrence(t *testing.T) {
	// GIVEN: A weekly template with 7 Mondays
	f := newFixture(t)

	// WHEN: Creating the series
	id := f.create(t, weeklyTemplate("tpl-1"))

	// THEN: The template and 7 template-owned instances exist
	assert.Equal(t, ledger.TemplateID("tpl-1"), id)
	tpl, err := f.svc.GetTemplate(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7, tpl.InstancesCreated)
	assert.Equal(t, ledger.UserID("alice"), tpl.CreatedBy)
	assert.True(t, now.Equal(tpl.CreatedAt))
	assert.True(t, tpl.Complete())
	assert.Equal(t, "2025-04-14", tpl.MaterializedThrough.String())

	got := f.instances(t, id)
	assert.Equal(t, []string{
		"2025-03-03", "2025-03-10", "2025-03-17", "2025-03-24",
		"2025-03-31", "2025-04-07", "2025-04-14",
	}, dates(got))
	for _, e := range got {
		assert.Equal(t, ledger.InstanceID(id, e.Date), e.ID)
		assert.True(t, e.IsRecurringInstance())
		assert.False(t, e.IsModified())
		assert.Equal(t, e.Date, e.OriginalDate)
		assert.Equal(t, "9.99", e.Amount.String())
	}
}

func TestCreate_GeneratesID(t *testing.T) {
	f := newFixture(t)
	tpl := weeklyTemplate("")

	id := f.create(t, tpl)

	assert.Equal(t, ledger.TemplateID("id-1"), id)
	assert.Len(t, f.instances(t, id), 7)
}

func TestCreate_RetryNeverDuplicates(t *testing.T) {
	// GIVEN: A created series with one user edit
	f := newFixture(t)
	id := f.create(t, weeklyTemplate("tpl-1"))
	f.modify(t, id, "2025-03-31", "5")

	commits := len(f.store.CommitSizes())

	// WHEN: The same create is retried
	f.create(t, weeklyTemplate("tpl-1"))

	// THEN: The complete series is left as it is
	assert.Len(t, f.store.CommitSizes(), commits, "nothing written")
	assert.Len(t, f.instances(t, id), 7)
	assert.Equal(t, "5", f.instance(t, id, "2025-03-31").Amount.String())
}

func TestCreate_ReusedIDForAnotherSeries(t *testing.T) {
	// GIVEN: A series tpl-1 owned by alice
	f := newFixture(t)
	f.create(t, weeklyTemplate("tpl-1"))
	commits := len(f.store.CommitSizes())

	other := weeklyTemplate("tpl-1")
	other.Entry.Amount = decimal.RequireFromString("19.99")
	stolen := weeklyTemplate("tpl-1")
	stolen.OwnerID = "bob"

	for _, tpl := range []ledger.Template{other, stolen} {
		// WHEN: A different series claims the same id
		_, err := f.svc.Create(f.ctx, tpl)

		// THEN: Refused, nothing written
		assert.ErrorIs(t, err, ledger.ErrTemplateExists)
	}
	assert.Len(t, f.store.CommitSizes(), commits)
	stored, err := f.svc.GetTemplate(f.ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.UserID("alice"), stored.OwnerID)
	assert.Equal(t, "9.99", stored.Entry.Amount.String())
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tpl *ledger.Template)
		target error
	}{
		{"zero interval", func(tpl *ledger.Template) { tpl.Recurrence.Interval = 0 }, recurrence.ErrInvalidRule},
		{"end before start", func(tpl *ledger.Template) { tpl.Recurrence.EndDate = date("2025-01-01") }, recurrence.ErrInvalidRule},
		{"empty weekday set", func(tpl *ledger.Template) { tpl.Recurrence.DaysOfWeek = []time.Weekday{} }, recurrence.ErrInvalidRule},
		{"negative amount", func(tpl *ledger.Template) { tpl.Entry.Amount = tpl.Entry.Amount.Neg() }, ledger.ErrInvalidEntry},
		{"bad currency", func(tpl *ledger.Template) { tpl.Entry.Currency = "euro" }, ledger.ErrInvalidEntry},
		{"no owner", func(tpl *ledger.Template) { tpl.OwnerID = "" }, ledger.ErrInvalidEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tpl := weeklyTemplate("tpl-1")
			tt.mutate(&tpl)

			_, err := f.svc.Create(f.ctx, tpl)

			assert.ErrorIs(t, err, tt.target)
			assert.True(t, ledger.IsClientError(err))
			assert.Empty(t, f.store.CommitSizes(), "nothing written")
		})
	}
}

func TestCreate_DefaultsEndDate(t *testing.T) {
	f := newFixture(t)
	tpl := weeklyTemplate("tpl-1")
	tpl.Recurrence.EndDate = calendar.Date{}

	id := f.create(t, tpl)

	got, err := f.svc.GetTemplate(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", got.Recurrence.EndDate.String())
	assert.Equal(t, 53, got.InstancesCreated)
}

func TestCreate_ChunksAtBatchLimit(t *testing.T) {
	// GIVEN: A store that takes 3 ops per batch, recording batch contents
	mem := store.NewMemoryWithLimit(3)
	var batches [][]ledger.Op
	mem.FailCommit = func(_ int, ops []ledger.Op) error {
		batches = append(batches, append([]ledger.Op(nil), ops...))
		return nil
	}
	f := newFixtureWithStore(t, mem)

	// WHEN: Creating 7 instances (9 ops: the template twice)
	id := f.create(t, weeklyTemplate("tpl-1"))

	// THEN: 3 + 3 + 3, the pending template first and the finished one last
	assert.Equal(t, []int{3, 3, 3}, mem.CommitSizes())
	require.Len(t, batches, 3)
	first, last := batches[0][0], batches[2][2]
	assert.Equal(t, ledger.OpPutTemplate, first.Kind)
	assert.True(t, first.Template.MaterializedThrough.IsZero())
	assert.Equal(t, ledger.OpPutTemplate, last.Kind)
	assert.Equal(t, "2025-04-14", last.Template.MaterializedThrough.String())
	assert.Len(t, f.instances(t, id), 7)
}

func TestCreate_PartialFailureIsCompletedByRetry(t *testing.T) {
	// GIVEN: A store whose second batch fails once
	mem := store.NewMemoryWithLimit(3)
	failed := false
	mem.FailCommit = func(commit int, _ []ledger.Op) error {
		if commit == 1 && !failed {
			failed = true
			return errors.New("store unavailable")
		}
		return nil
	}
	f := newFixtureWithStore(t, mem)

	// WHEN: Creating the series
	_, err := f.svc.Create(f.ctx, weeklyTemplate("tpl-1"))

	// THEN: The first batch stayed, the error says so
	var partial *ledger.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 3, partial.Committed)
	assert.Contains(t, err.Error(), "failed to create recurring entries")
	assert.Len(t, f.instances(t, "tpl-1"), 2)

	// AND: The stored template admits it is incomplete
	partialTpl, err := f.svc.GetTemplate(f.ctx, "tpl-1")
	require.NoError(t, err)
	assert.False(t, partialTpl.Complete())

	// WHEN: Retrying with the same id
	f.create(t, weeklyTemplate("tpl-1"))

	// THEN: The series is complete without duplicates
	assert.Len(t, f.instances(t, "tpl-1"), 7)
	done, err := f.svc.GetTemplate(f.ctx, "tpl-1")
	require.NoError(t, err)
	assert.True(t, done.Complete())
}

func TestCreate_StopsBetweenBatchesOnCancel(t *testing.T) {
	mem := store.NewMemoryWithLimit(3)
	ctx, cancel := context.WithCancel(context.Background())
	mem.FailCommit = func(commit int, _ []ledger.Op) error {
		cancel()
		return nil
	}
	f := newFixtureWithStore(t, mem)

	_, err := f.svc.Create(ctx, weeklyTemplate("tpl-1"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{3}, mem.CommitSizes(), "the committed batch stays")
}
