package series_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/ledger/store"
	"github.com/warp/expense-ledger/recurrence"
	"github.com/warp/expense-ledger/series"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// today is Thursday 2025-03-20 in every test.
var now = time.Date(2025, time.March, 20, 9, 30, 0, 0, time.UTC)

func date(s string) calendar.Date { return calendar.MustParse(s) }

type fixture struct {
	store *store.Memory
	svc   *series.Service
	ctx   context.Context
}

func newFixture(t *testing.T, opts ...series.Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory(), opts...)
}

func newFixtureWithStore(t *testing.T, s *store.Memory, opts ...series.Option) *fixture {
	t.Helper()
	seq := 0
	base := []series.Option{
		series.WithClock(func() time.Time { return now }),
		series.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	}
	return &fixture{
		store: s,
		svc:   series.New(s, append(base, opts...)...),
		ctx:   context.Background(),
	}
}

// weeklyTemplate runs every Monday from 2025-03-03 through 2025-04-14:
// three Mondays before today (03-03, 03-10, 03-17), four after (03-24,
// 03-31, 04-07, 04-14).
func weeklyTemplate(id ledger.TemplateID) ledger.Template {
	return ledger.Template{
		ID:      id,
		OwnerID: "alice",
		Entry: ledger.EntryTemplate{
			Type:        ledger.Expense,
			Amount:      decimal.RequireFromString("9.99"),
			Currency:    "EUR",
			Category:    ledger.CategorySubscriptions,
			Description: "music",
		},
		Recurrence: recurrence.Rule{
			Frequency: recurrence.Weekly,
			Interval:  1,
			EndDate:   date("2025-04-14"),
		},
		StartDate: date("2025-03-03"),
	}
}

func (f *fixture) create(t *testing.T, tpl ledger.Template) ledger.TemplateID {
	t.Helper()
	id, err := f.svc.Create(f.ctx, tpl)
	require.NoError(t, err)
	return id
}

func (f *fixture) instances(t *testing.T, id ledger.TemplateID) []ledger.Entry {
	t.Helper()
	got, err := f.store.QueryInstances(f.ctx, ledger.InstanceQuery{TemplateID: id})
	require.NoError(t, err)
	return got
}

func (f *fixture) instance(t *testing.T, id ledger.TemplateID, day string) ledger.Entry {
	t.Helper()
	e, err := f.store.GetEntry(f.ctx, ledger.InstanceID(id, date(day)))
	require.NoError(t, err)
	return e
}

func (f *fixture) modify(t *testing.T, id ledger.TemplateID, day, amount string) {
	t.Helper()
	a := decimal.RequireFromString(amount)
	_, err := f.svc.EditEntry(f.ctx, ledger.InstanceID(id, date(day)), series.EntryPatch{Amount: &a})
	require.NoError(t, err)
}

func dates(entries []ledger.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Date.String()
	}
	return out
}

func update(tpl ledger.Template) series.TemplateUpdate {
	return series.TemplateUpdate{Entry: tpl.Entry, Recurrence: tpl.Recurrence}
}
