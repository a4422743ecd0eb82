package series

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/locking"
	"github.com/warp/expense-ledger/recurrence"
)

// =============================================================================
// MATERIALIZER
// =============================================================================

// Create validates t, expands its rule from t.StartDate and writes the
// template followed by one instance per occurrence.
//
// An empty t.ID gets a fresh id. A caller-chosen id makes Create idempotent:
//
//   - no template with that id: the series is created
//   - same owner and series, not yet complete (an earlier call failed part
//     way): the same keys are rewritten, filling in the missing rows without
//     duplicates and without touching instances the user already edited
//   - same owner and series, complete: nothing is written
//   - anything else: ledger.ErrTemplateExists
//
// A zero EndDate is replaced by recurrence.DefaultEndDate.
//
// The template is written twice: first with a zero MaterializedThrough, and
// again as the very last op with MaterializedThrough = EndDate. A template
// whose write stopped part way therefore reports Complete() == false.
func (s *Service) Create(ctx context.Context, t ledger.Template) (ledger.TemplateID, error) {
	supplied := t.ID != ""
	if !supplied {
		t.ID = ledger.TemplateID(s.newID())
	}
	if t.CreatedBy == "" {
		t.CreatedBy = t.OwnerID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock()
	}
	if t.Recurrence.EndDate.IsZero() && t.Recurrence.Frequency.Valid() && !t.StartDate.IsZero() {
		t.Recurrence.EndDate = recurrence.DefaultEndDate(t.Recurrence.Frequency, t.StartDate)
	}
	t.MaterializedThrough = calendar.Date{}
	if err := t.Validate(); err != nil {
		return "", err
	}

	dates, err := recurrence.Expand(t.Recurrence, t.StartDate)
	if err != nil {
		return "", err
	}
	t.InstancesCreated = len(dates)

	err = s.withTemplateLock(ctx, t.ID, func(held locking.Lock) error {
		if supplied {
			existing, err := s.store.GetTemplate(ctx, t.ID)
			switch {
			case errors.Is(err, ledger.ErrTemplateNotFound):
			case err != nil:
				return err
			case !sameSeries(existing, t):
				return fmt.Errorf("template %s: %w", t.ID, ledger.ErrTemplateExists)
			case existing.Complete():
				s.log.WithField("template_id", t.ID).Info("series already materialized")
				return nil
			default:
				t.CreatedBy = existing.CreatedBy
				t.CreatedAt = existing.CreatedAt
				s.log.WithField("template_id", t.ID).Warn("completing partially materialized series")
			}
		}

		now := s.clock()
		done := t
		done.MaterializedThrough = t.Recurrence.EndDate

		ops := make([]ledger.Op, 0, len(dates)+2)
		ops = append(ops, ledger.PutTemplate(t))
		for _, d := range dates {
			ops = append(ops, ledger.UpsertInstance(t.Instance(d, now)))
		}
		ops = append(ops, ledger.PutTemplate(done))

		_, err := s.write(ctx, "create", t.ID, held, ops)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create recurring entries: %w", err)
	}
	return t.ID, nil
}

// sameSeries reports whether b is a repeat of the create that produced a.
func sameSeries(a, b ledger.Template) bool {
	return a.OwnerID == b.OwnerID &&
		a.StartDate.Equal(b.StartDate) &&
		a.Recurrence.Equal(b.Recurrence) &&
		a.Entry.Type == b.Entry.Type &&
		a.Entry.Amount.Equal(b.Entry.Amount) &&
		a.Entry.Currency == b.Entry.Currency &&
		a.Entry.Category == b.Entry.Category &&
		a.Entry.Description == b.Entry.Description
}
