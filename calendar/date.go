/*
Package calendar provides the calendar-date value type used across the ledger.

PURPOSE:
  Ledger entries and occurrence dates are calendar days, not instants. A Date
  is always normalized to UTC midnight so two dates compare equal exactly when
  they name the same day, regardless of how the underlying time was built.

KEY CONCEPTS:
  - Date: a UTC-midnight day with day/month/year arithmetic
  - DaysIn: month length, used for day-of-month clamping
  - Range: an inclusive [Start, End] span of days

SEE ALSO:
  - recurrence/expand.go: Uses Date arithmetic to expand rules
  - ledger/identity.go: Uses Date.Compact() for instance keys
*/
package calendar

import (
	"fmt"
	"time"
)

// Layout is the wire and storage format for dates.
const Layout = "2006-01-02"

// =============================================================================
// DATE - UTC-midnight calendar day
// =============================================================================

type Date struct {
	Time time.Time
}

// NewDate builds a date. Out-of-range values normalize the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Today returns the current UTC day.
func Today() Date {
	return DateOf(time.Now().UTC())
}

// Parse reads a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(other Date) int {
	switch {
	case d.Before(other):
		return -1
	case d.After(other):
		return 1
	default:
		return 0
	}
}

// Arithmetic. AddMonths and AddYears follow time.AddDate normalization
// (Jan 31 + 1 month = Mar 3); use AddMonthsClamped when the day must stay
// inside the target month.
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{Time: d.Time.AddDate(n, 0, 0)} }

// AddMonthsClamped moves n months and pins day to min(day, days in the target month).
func (d Date) AddMonthsClamped(n, day int) Date {
	first := NewDate(d.Year(), d.Month(), 1).AddMonths(n)
	return ClampedDate(first.Year(), first.Month(), day)
}

// ClampedDate returns the given day of the month, or the month's last day when
// the month is shorter.
func ClampedDate(year int, month time.Month, day int) Date {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return NewDate(year, month, day)
}

// Properties
func (d Date) Year() int             { return d.Time.Year() }
func (d Date) Month() time.Month     { return d.Time.Month() }
func (d Date) Day() int              { return d.Time.Day() }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsZero() bool          { return d.Time.IsZero() }
func (d Date) String() string        { return d.Time.Format(Layout) }
func (d Date) Compact() string       { return d.Time.Format("20060102") }
func (d Date) StartOfWeek() Date     { return d.AddDays(-int(d.Weekday())) }
func (d Date) StartOfMonth() Date    { return NewDate(d.Year(), d.Month(), 1) }
func (d Date) EndOfMonth() Date      { return ClampedDate(d.Year(), d.Month(), 31) }

// MarshalText encodes as YYYY-MM-DD; the zero date encodes as an empty string.
func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// MONTH UTILITIES
// =============================================================================

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthsBetween counts whole calendar months from a's month to b's month.
func MonthsBetween(a, b Date) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// DaysBetween counts days from a to b (negative when b is earlier).
func DaysBetween(a, b Date) int {
	return int(b.Time.Sub(a.Time).Hours() / 24)
}

// =============================================================================
// RANGE - Inclusive span of days
// =============================================================================

type Range struct {
	Start Date
	End   Date
}

// Contains reports whether d is within [Start, End].
func (r Range) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Days returns every day in the range.
func (r Range) Days() []Date {
	var days []Date
	for current := r.Start; current.BeforeOrEqual(r.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (r Range) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
