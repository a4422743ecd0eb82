package calendar_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/calendar"
)

func TestDateOf_NormalizesToMidnight(t *testing.T) {
	d := calendar.DateOf(time.Date(2025, time.March, 10, 17, 45, 3, 0, time.UTC))
	assert.Equal(t, "2025-03-10", d.String())
	assert.True(t, d.Equal(calendar.NewDate(2025, time.March, 10)))
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 31, calendar.DaysIn(2025, time.January))
	assert.Equal(t, 28, calendar.DaysIn(2025, time.February))
	assert.Equal(t, 29, calendar.DaysIn(2024, time.February))
	assert.Equal(t, 30, calendar.DaysIn(2025, time.April))
}

func TestAddMonthsClamped_StaysInsideTargetMonth(t *testing.T) {
	jan31 := calendar.NewDate(2025, time.January, 31)

	assert.Equal(t, "2025-02-28", jan31.AddMonthsClamped(1, 31).String())
	assert.Equal(t, "2025-03-31", jan31.AddMonthsClamped(2, 31).String())
	assert.Equal(t, "2024-02-29", calendar.NewDate(2024, time.January, 31).AddMonthsClamped(1, 31).String())

	// Plain AddMonths overflows into March
	assert.Equal(t, "2025-03-03", jan31.AddMonths(1).String())
}

func TestStartOfWeek_IsSunday(t *testing.T) {
	wed := calendar.NewDate(2025, time.March, 12)
	assert.Equal(t, time.Sunday, wed.StartOfWeek().Weekday())
	assert.Equal(t, "2025-03-09", wed.StartOfWeek().String())
}

func TestDate_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Date calendar.Date `json:"date"`
	}

	b, err := json.Marshal(wrapper{Date: calendar.NewDate(2025, time.June, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-06-01"}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2025-12-31"}`), &w))
	assert.Equal(t, "2025-12-31", w.Date.String())

	assert.Error(t, json.Unmarshal([]byte(`{"date":"31/12/2025"}`), &w))
}

func TestRange_Days(t *testing.T) {
	r := calendar.Range{Start: calendar.MustParse("2025-02-27"), End: calendar.MustParse("2025-03-02")}
	days := r.Days()
	require.Len(t, days, 4)
	assert.Equal(t, "2025-03-01", days[2].String())
	assert.True(t, r.Contains(calendar.MustParse("2025-03-02")))
	assert.False(t, r.Contains(calendar.MustParse("2025-03-03")))
}

func TestMonthsBetween(t *testing.T) {
	assert.Equal(t, 13, calendar.MonthsBetween(calendar.MustParse("2024-12-31"), calendar.MustParse("2026-01-01")))
	assert.Equal(t, 0, calendar.MonthsBetween(calendar.MustParse("2025-05-01"), calendar.MustParse("2025-05-31")))
}
