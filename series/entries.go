package series

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// ENTRY EDIT PATH
// =============================================================================

// EntryPatch holds the fields a user may change on an entry. Nil = unchanged.
type EntryPatch struct {
	Type        *ledger.EntryType
	Amount      *decimal.Decimal
	Currency    *string
	Category    *ledger.Category
	Description *string
	Date        *calendar.Date
}

func (p EntryPatch) empty() bool {
	return p.Type == nil && p.Amount == nil && p.Currency == nil &&
		p.Category == nil && p.Description == nil && p.Date == nil
}

func (p EntryPatch) apply(e *ledger.Entry) {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Currency != nil {
		e.Currency = *p.Currency
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
}

// GetTemplate returns a stored template.
func (s *Service) GetTemplate(ctx context.Context, id ledger.TemplateID) (ledger.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// GetEntry returns a stored entry.
func (s *Service) GetEntry(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// CreateEntry records a one-off entry. Recurring fields on e are ignored.
func (s *Service) CreateEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	now := s.clock()
	e.ID = ledger.EntryID(s.newID())
	e.TemplateID = ""
	e.OriginalDate = calendar.Date{}
	e.State = ledger.TemplateOwned
	e.CreatedAt = now
	e.UpdatedAt = now
	if err := e.Validate(); err != nil {
		return ledger.Entry{}, err
	}

	if err := s.store.Commit(ctx, []ledger.Op{ledger.PutEntry(e)}); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

// EditEntry applies patch. Editing a recurring instance hands it to the user
// for good: regeneration will no longer overwrite it and stop/delete-all will
// no longer remove it. ID and OriginalDate never change.
func (s *Service) EditEntry(ctx context.Context, id ledger.EntryID, patch EntryPatch) (ledger.Entry, error) {
	if patch.empty() {
		return ledger.Entry{}, &ledger.EntryError{Field: "patch", Reason: "has no fields to update"}
	}
	e, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return ledger.Entry{}, err
	}

	patch.apply(&e)
	if e.IsRecurringInstance() {
		e.State = e.State.Modify()
	}
	e.UpdatedAt = s.clock()
	if err := e.Validate(); err != nil {
		return ledger.Entry{}, err
	}

	if err := s.store.Commit(ctx, []ledger.Op{ledger.PutEntry(e)}); err != nil {
		return ledger.Entry{}, err
	}
	s.log.WithField("entry_id", e.ID).WithField("state", e.State.String()).Debug("entry edited")
	return e, nil
}

// DeleteEntry removes one entry, recurring or not. A deleted recurring
// instance is not recreated by later regeneration.
func (s *Service) DeleteEntry(ctx context.Context, id ledger.EntryID) error {
	if _, err := s.store.GetEntry(ctx, id); err != nil {
		return err
	}
	return s.store.Commit(ctx, []ledger.Op{ledger.DeleteEntry(id)})
}

// ListEntries returns owner's entries dated within [from, to].
func (s *Service) ListEntries(ctx context.Context, owner ledger.UserID, from, to calendar.Date) ([]ledger.Entry, error) {
	if to.Before(from) {
		return nil, &ledger.EntryError{Field: "to", Reason: "is before from"}
	}
	return s.store.ListEntries(ctx, owner, from, to)
}

// Instances returns every stored instance of a template, ascending by date.
func (s *Service) Instances(ctx context.Context, id ledger.TemplateID) ([]ledger.Entry, error) {
	if _, err := s.store.GetTemplate(ctx, id); err != nil {
		return nil, err
	}
	return s.store.QueryInstances(ctx, ledger.InstanceQuery{TemplateID: id})
}
