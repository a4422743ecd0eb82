package series

import (
	"context"
	"fmt"

	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/locking"
)

// =============================================================================
// TERMINATOR
// =============================================================================

// Stop ends a series today: the template and every template-owned instance
// dated today or later are deleted. Past instances and user-owned instances
// stay as ordinary history. Returns the number of instances deleted.
func (s *Service) Stop(ctx context.Context, id ledger.TemplateID) (int, error) {
	n, err := s.terminate(ctx, "stop", ledger.InstanceQuery{
		TemplateID:        id,
		From:              s.today(),
		OnlyTemplateOwned: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to stop recurring entries: %w", err)
	}
	return n, nil
}

// DeleteAll removes the template and every template-owned instance, past or
// future. User-owned instances survive as independent entries. Returns the
// number of instances deleted.
func (s *Service) DeleteAll(ctx context.Context, id ledger.TemplateID) (int, error) {
	n, err := s.terminate(ctx, "delete_all", ledger.InstanceQuery{
		TemplateID:        id,
		OnlyTemplateOwned: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete recurring entries: %w", err)
	}
	return n, nil
}

func (s *Service) terminate(ctx context.Context, op string, q ledger.InstanceQuery) (int, error) {
	deleted := 0
	err := s.withTemplateLock(ctx, q.TemplateID, func(held locking.Lock) error {
		if _, err := s.store.GetTemplate(ctx, q.TemplateID); err != nil {
			return err
		}
		doomed, err := s.store.QueryInstances(ctx, q)
		if err != nil {
			return err
		}

		ops := make([]ledger.Op, 0, len(doomed)+1)
		ops = append(ops, ledger.DeleteTemplate(q.TemplateID))
		for _, e := range doomed {
			ops = append(ops, ledger.DeleteInstance(e.ID))
		}
		if _, err := s.write(ctx, op, q.TemplateID, held, ops); err != nil {
			return err
		}
		deleted = len(doomed)
		return nil
	})
	return deleted, err
}
