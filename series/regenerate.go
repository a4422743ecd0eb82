package series

import (
	"context"
	"fmt"

	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/locking"
	"github.com/warp/expense-ledger/recurrence"
)

// =============================================================================
// REGENERATOR
// =============================================================================

// TemplateUpdate is the new blueprint and rule of an existing template.
type TemplateUpdate struct {
	Entry      ledger.EntryTemplate
	Recurrence recurrence.Rule
}

// EditTemplate applies update going forward from today.
func (s *Service) EditTemplate(ctx context.Context, id ledger.TemplateID, update TemplateUpdate) (int, error) {
	return s.Regenerate(ctx, id, update, s.today())
}

// Regenerate stores update on the template and reconciles its instances dated
// on or after from. It returns the number of instances touched.
//
// The new rule keeps the phase of the template's start date; only its dates
// >= from are considered, and the occurrence cap counts from there. A zero end
// date in update keeps the stored one. Then:
//
//   - template-owned instances from `from` on that the new rule no longer
//     produces are deleted
//   - existing template-owned instance: blueprint fields are overwritten
//   - existing user-owned instance: skipped
//   - missing instance the old rule produced and had written: skipped, the
//     user deleted it
//   - any other missing instance: created, which also fills in a series an
//     earlier create or regenerate left incomplete
//
// Instances dated before from are never touched.
func (s *Service) Regenerate(ctx context.Context, id ledger.TemplateID, update TemplateUpdate, from calendar.Date) (int, error) {
	touched := 0
	err := s.withTemplateLock(ctx, id, func(held locking.Lock) error {
		n, err := s.regenerate(ctx, held, id, update, from)
		touched = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update recurring entries: %w", err)
	}
	return touched, nil
}

func (s *Service) regenerate(ctx context.Context, held locking.Lock, id ledger.TemplateID, update TemplateUpdate, from calendar.Date) (int, error) {
	old, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return 0, err
	}

	now := s.clock()
	next := old
	next.Entry = update.Entry
	next.Recurrence = update.Recurrence
	if next.Recurrence.EndDate.IsZero() {
		next.Recurrence.EndDate = old.Recurrence.EndDate
	}
	next.UpdatedAt = &now
	if err := next.Validate(); err != nil {
		return 0, err
	}

	fresh, err := recurrence.ExpandFrom(next.Recurrence, next.StartDate, from, recurrence.MaxOccurrences)
	if err != nil {
		return 0, err
	}
	previous, err := recurrence.ExpandFrom(old.Recurrence, old.StartDate, from, recurrence.MaxOccurrences)
	if err != nil {
		return 0, err
	}
	written := make(map[ledger.EntryID]bool, len(previous))
	for _, d := range previous {
		if !d.After(old.MaterializedThrough) {
			written[ledger.InstanceID(id, d)] = true
		}
	}

	// One bulk read of the whole series.
	instances, err := s.store.QueryInstances(ctx, ledger.InstanceQuery{TemplateID: id})
	if err != nil {
		return 0, err
	}
	existing := make(map[ledger.EntryID]ledger.Entry, len(instances))
	for _, e := range instances {
		existing[e.ID] = e
	}

	wanted := make(map[ledger.EntryID]bool, len(fresh))
	var writes []ledger.Op
	for _, d := range fresh {
		key := ledger.InstanceID(id, d)
		wanted[key] = true

		e, ok := existing[key]
		switch {
		case ok && e.IsModified():
			continue
		case ok:
			writes = append(writes, ledger.MergeInstance(next.Instance(d, now)))
		case written[key]:
			continue
		default:
			writes = append(writes, ledger.UpsertInstance(next.Instance(d, now)))
		}
	}

	var deletes []ledger.Op
	for _, e := range instances {
		if !e.IsModified() && e.Date.AfterOrEqual(from) && !wanted[e.ID] {
			deletes = append(deletes, ledger.DeleteInstance(e.ID))
		}
	}

	next.InstancesCreated = len(writes)

	// While the write is in flight nothing from `from` on counts as written.
	pending := next
	pending.MaterializedThrough = old.MaterializedThrough
	if before := from.AddDays(-1); pending.MaterializedThrough.After(before) {
		pending.MaterializedThrough = before
	}
	done := next
	done.MaterializedThrough = next.Recurrence.EndDate
	if !old.Complete() && from.After(old.StartDate) && old.MaterializedThrough.Before(from.AddDays(-1)) {
		// Some days before from were never written and are not touched here.
		done.MaterializedThrough = old.MaterializedThrough
	}

	ops := make([]ledger.Op, 0, 2+len(deletes)+len(writes))
	ops = append(ops, ledger.PutTemplate(pending))
	ops = append(ops, deletes...)
	ops = append(ops, writes...)
	ops = append(ops, ledger.PutTemplate(done))
	if _, err := s.write(ctx, "regenerate", id, held, ops); err != nil {
		return 0, err
	}

	s.log.WithField("template_id", id).
		WithField("from", from.String()).
		WithField("deleted", len(deletes)).
		WithField("touched", len(writes)).
		Info("template regenerated")
	return len(writes), nil
}
