package recurrence

import (
	"github.com/warp/expense-ledger/calendar"
)

// MaxOccurrences caps a single expansion. It matches the default store batch
// limit, so a full expansion plus its template fits in at most two batches.
const MaxOccurrences = 500

// =============================================================================
// EXPAND - Rule + anchor -> ordered occurrence dates
// =============================================================================

// Expand returns every occurrence of rule from anchor through rule.EndDate,
// capped at MaxOccurrences. The result is ascending and free of duplicates.
//
// Only structural problems (unknown frequency, interval < 1) are errors here;
// an end date before the anchor simply yields no dates. Callers creating a
// series must run Rule.Validate first and refuse that case.
func Expand(rule Rule, anchor calendar.Date) ([]calendar.Date, error) {
	return ExpandLimit(rule, anchor, MaxOccurrences)
}

// ExpandLimit is Expand with an explicit cap.
func ExpandLimit(rule Rule, anchor calendar.Date, limit int) ([]calendar.Date, error) {
	return ExpandFrom(rule, anchor, anchor, limit)
}

// ExpandFrom returns the occurrences of rule anchored at anchor that fall on
// or after from. The phase of the series still comes from anchor; only dates
// >= from count toward limit, so a window deep into a long series is never
// cut off by occurrences that precede it.
func ExpandFrom(rule Rule, anchor, from calendar.Date, limit int) ([]calendar.Date, error) {
	if !rule.Frequency.Valid() {
		return nil, &RuleError{Field: "frequency", Reason: "must be one of daily, weekly, monthly, yearly"}
	}
	if rule.Interval < 1 {
		return nil, &RuleError{Field: "interval", Reason: "must be at least 1"}
	}
	if from.Before(anchor) {
		from = anchor
	}
	if anchor.IsZero() || rule.EndDate.Before(from) || limit <= 0 {
		return nil, nil
	}

	e := expansion{rule: rule, anchor: anchor, from: from, limit: limit}
	switch rule.Frequency {
	case Daily:
		e.daily()
	case Weekly:
		e.weekly()
	case Monthly:
		e.monthly()
	case Yearly:
		e.yearly()
	}
	return e.out, nil
}

type expansion struct {
	rule   Rule
	anchor calendar.Date
	from   calendar.Date
	limit  int
	out    []calendar.Date
}

// emit appends d and reports whether expansion may continue. Dates before
// from are dropped without counting toward the limit.
func (e *expansion) emit(d calendar.Date) bool {
	if d.Before(e.from) {
		return true
	}
	e.out = append(e.out, d)
	return len(e.out) < e.limit
}

func (e *expansion) daily() {
	end := e.rule.EndDate
	for d := e.anchor; !d.After(end); d = d.AddDays(e.rule.Interval) {
		if e.rule.allows(d) && !e.emit(d) {
			return
		}
	}
}

// weekly without a weekday set repeats the anchor's weekday. With a set, each
// selected weekday of the current Sunday-started week is visited before the
// block advances by Interval weeks; days before the anchor are skipped.
func (e *expansion) weekly() {
	end := e.rule.EndDate
	step := 7 * e.rule.Interval

	if len(e.rule.DaysOfWeek) == 0 {
		for d := e.anchor; !d.After(end); d = d.AddDays(step) {
			if !e.emit(d) {
				return
			}
		}
		return
	}

	weekdays := e.rule.weekdays()
	for block := e.anchor.StartOfWeek(); !block.After(end); block = block.AddDays(step) {
		for _, wd := range weekdays {
			d := block.AddDays(int(wd))
			if d.Before(e.anchor) {
				continue
			}
			if d.After(end) {
				return
			}
			if !e.emit(d) {
				return
			}
		}
	}
}

// monthly computes the n-th occurrence from the anchor rather than from the
// previous occurrence, so clamping to a short month never shifts later months.
func (e *expansion) monthly() {
	end := e.rule.EndDate
	day := e.rule.DayOfMonth
	if day == 0 {
		day = e.anchor.Day()
	}

	for n := 0; ; n++ {
		d := e.anchor.AddMonthsClamped(n*e.rule.Interval, day)
		if d.After(end) {
			return
		}
		if d.Before(e.anchor) {
			continue
		}
		if !e.emit(d) {
			return
		}
	}
}

func (e *expansion) yearly() {
	end := e.rule.EndDate
	for n := 0; ; n++ {
		d := calendar.ClampedDate(e.anchor.Year()+n*e.rule.Interval, e.anchor.Month(), e.anchor.Day())
		if d.After(end) {
			return
		}
		if !e.emit(d) {
			return
		}
	}
}
