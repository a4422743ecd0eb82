package series

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// AGGREGATES - Read from the ledger, never from rule replay
// =============================================================================

// The aggregates count what is stored, so instances the user deleted or moved
// are reflected exactly. "Future" means strictly after today.

// NextOccurrence returns the date of the template's earliest instance after
// today. ok is false when none remains.
func (s *Service) NextOccurrence(ctx context.Context, id ledger.TemplateID) (next calendar.Date, ok bool, err error) {
	found, err := s.store.QueryInstances(ctx, ledger.InstanceQuery{
		TemplateID: id,
		After:      s.today(),
		Limit:      1,
	})
	if err != nil || len(found) == 0 {
		return calendar.Date{}, false, err
	}
	return found[0].Date, true, nil
}

// RemainingCount counts the template's instances after today.
func (s *Service) RemainingCount(ctx context.Context, id ledger.TemplateID) (int, error) {
	return s.store.CountInstances(ctx, ledger.InstanceQuery{TemplateID: id, After: s.today()})
}

// Summary is a template with its aggregates.
type Summary struct {
	Template  ledger.Template
	Next      calendar.Date
	HasNext   bool
	Remaining int
}

// Describe returns one template's summary.
func (s *Service) Describe(ctx context.Context, id ledger.TemplateID) (Summary, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return s.summarize(ctx, t)
}

// Summaries returns every template of owner, oldest first.
func (s *Service) Summaries(ctx context.Context, owner ledger.UserID) ([]Summary, error) {
	templates, err := s.store.ListTemplates(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(templates))
	for _, t := range templates {
		sum, err := s.summarize(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) summarize(ctx context.Context, t ledger.Template) (Summary, error) {
	next, ok, err := s.NextOccurrence(ctx, t.ID)
	if err != nil {
		return Summary{}, err
	}
	remaining, err := s.RemainingCount(ctx, t.ID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Template: t, Next: next, HasNext: ok, Remaining: remaining}, nil
}

// =============================================================================
// UPCOMING TOTALS
// =============================================================================

// UpcomingTotal sums an owner's future recurring instances in one currency.
type UpcomingTotal struct {
	Currency  string
	Expenses  decimal.Decimal
	Income    decimal.Decimal
	Instances int
}

// Net is income minus expenses.
func (u UpcomingTotal) Net() decimal.Decimal { return u.Income.Sub(u.Expenses) }

// Upcoming converts every instance after today of every template of owner
// into currency, at the rate of the instance's month.
func (s *Service) Upcoming(ctx context.Context, owner ledger.UserID, currency string) (UpcomingTotal, error) {
	total := UpcomingTotal{Currency: currency, Expenses: decimal.Zero, Income: decimal.Zero}

	templates, err := s.store.ListTemplates(ctx, owner)
	if err != nil {
		return total, err
	}
	today := s.today()
	for _, t := range templates {
		instances, err := s.store.QueryInstances(ctx, ledger.InstanceQuery{TemplateID: t.ID, After: today})
		if err != nil {
			return total, err
		}
		for _, e := range instances {
			amount, err := s.converter.Convert(ctx, e.Amount, e.Currency, currency, e.Date)
			if err != nil {
				return total, fmt.Errorf("convert %s: %w", e.ID, err)
			}
			if e.Type == ledger.Income {
				total.Income = total.Income.Add(amount)
			} else {
				total.Expenses = total.Expenses.Add(amount)
			}
			total.Instances++
		}
	}
	total.Expenses = total.Expenses.Round(2)
	total.Income = total.Income.Round(2)
	return total, nil
}
