/*
Package recurrence defines recurrence rules and expands them into dates.

PURPOSE:
  A Rule says how often a recurring entry repeats (daily, weekly, monthly,
  yearly), every how many units, on which weekdays or day of the month, and
  until which date. Expand turns a rule and an anchor date into the ordered
  list of occurrence dates. Nothing in this package performs I/O.

KEY CONCEPTS IN THIS FILE (rule.go):
  - Frequency: the step unit
  - Rule: frequency + interval + filters + end date
  - Validate: rejects malformed rules before anything is written

BOUND:
  Expansion stops at EndDate (inclusive). There is no occurrence-count field;
  MaxOccurrences is only a safety cap against malformed input.

SEE ALSO:
  - expand.go: The evaluator
  - series/materialize.go: Persists the expanded dates
*/
package recurrence

import (
	"sort"
	"time"

	"github.com/warp/expense-ledger/calendar"
)

// =============================================================================
// FREQUENCY
// =============================================================================

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// =============================================================================
// RULE
// =============================================================================

// Rule describes a repeating schedule.
//
// DaysOfWeek uses time.Weekday numbering (0 = Sunday ... 6 = Saturday) and only
// applies to daily and weekly rules. A nil slice means "no weekday filter"; a
// non-nil empty slice is an explicit empty selection and fails validation.
// DayOfMonth applies to monthly rules only; 0 means "the anchor's day".
type Rule struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval"`
	EndDate    calendar.Date  `json:"endDate"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty"`
	DayOfMonth int            `json:"dayOfMonth,omitempty"`
}

// Validate checks the rule against the series start date.
func (r Rule) Validate(start calendar.Date) error {
	if !r.Frequency.Valid() {
		return &RuleError{Field: "frequency", Reason: "must be one of daily, weekly, monthly, yearly"}
	}
	if r.Interval < 1 {
		return &RuleError{Field: "interval", Reason: "must be at least 1"}
	}
	if start.IsZero() {
		return &RuleError{Field: "startDate", Reason: "is required"}
	}
	if r.EndDate.IsZero() {
		return &RuleError{Field: "endDate", Reason: "is required"}
	}
	if r.EndDate.Before(start) {
		return &RuleError{Field: "endDate", Reason: "is before the start date"}
	}

	if r.DaysOfWeek != nil {
		if r.Frequency != Daily && r.Frequency != Weekly {
			return &RuleError{Field: "daysOfWeek", Reason: "only applies to daily and weekly rules"}
		}
		if len(r.DaysOfWeek) == 0 {
			return &RuleError{Field: "daysOfWeek", Reason: "must select at least one weekday"}
		}
		for _, wd := range r.DaysOfWeek {
			if wd < time.Sunday || wd > time.Saturday {
				return &RuleError{Field: "daysOfWeek", Reason: "weekday numbers must be between 0 and 6"}
			}
		}
	}

	if r.DayOfMonth != 0 {
		if r.Frequency != Monthly {
			return &RuleError{Field: "dayOfMonth", Reason: "only applies to monthly rules"}
		}
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return &RuleError{Field: "dayOfMonth", Reason: "must be between 1 and 31"}
		}
	}
	return nil
}

// Equal reports whether r and other describe the same schedule. Weekday order
// and repeats are ignored.
func (r Rule) Equal(other Rule) bool {
	if r.Frequency != other.Frequency || r.Interval != other.Interval ||
		r.DayOfMonth != other.DayOfMonth || !r.EndDate.Equal(other.EndDate) {
		return false
	}
	if (r.DaysOfWeek == nil) != (other.DaysOfWeek == nil) {
		return false
	}
	a, b := r.weekdays(), other.weekdays()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// weekdays returns the selected weekdays sorted and deduplicated.
func (r Rule) weekdays() []time.Weekday {
	seen := make(map[time.Weekday]bool, len(r.DaysOfWeek))
	out := make([]time.Weekday, 0, len(r.DaysOfWeek))
	for _, wd := range r.DaysOfWeek {
		if !seen[wd] {
			seen[wd] = true
			out = append(out, wd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r Rule) allows(d calendar.Date) bool {
	if len(r.DaysOfWeek) == 0 {
		return true
	}
	for _, wd := range r.DaysOfWeek {
		if d.Weekday() == wd {
			return true
		}
	}
	return false
}

// DefaultEndDate is the end date offered when the user does not pick one:
// three months for daily rules, one year for weekly, two years for monthly and
// five years for yearly. Each stays under MaxOccurrences at interval 1.
func DefaultEndDate(f Frequency, start calendar.Date) calendar.Date {
	switch f {
	case Daily:
		return start.AddMonths(3)
	case Weekly:
		return start.AddYears(1)
	case Monthly:
		return start.AddYears(2)
	default:
		return start.AddYears(5)
	}
}
