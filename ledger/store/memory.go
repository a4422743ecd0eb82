// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	templates map[ledger.TemplateID]ledger.Template
	entries   map[ledger.EntryID]ledger.Entry
	limit     int
	commits   []int

	// FailCommit, when set, is consulted before each commit with the 0-based
	// commit number. A non-nil return aborts that commit untouched.
	FailCommit func(commit int, ops []ledger.Op) error
}

func NewMemory() *Memory {
	return NewMemoryWithLimit(ledger.DefaultBatchLimit)
}

// NewMemoryWithLimit creates a store whose batches hold at most limit ops.
func NewMemoryWithLimit(limit int) *Memory {
	return &Memory{
		templates: make(map[ledger.TemplateID]ledger.Template),
		entries:   make(map[ledger.EntryID]ledger.Entry),
		limit:     limit,
	}
}

func (m *Memory) BatchLimit() int { return m.limit }

// CommitSizes returns the op count of every successful commit, in order.
func (m *Memory) CommitSizes() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.commits...)
}

// Commit validates every op first and only then applies them, so a rejected
// batch leaves the store untouched.
func (m *Memory) Commit(_ context.Context, ops []ledger.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(ops) > m.limit {
		return fmt.Errorf("%w: %d ops, limit %d", ledger.ErrBatchTooLarge, len(ops), m.limit)
	}
	for i, op := range ops {
		if err := checkOp(op); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	if m.FailCommit != nil {
		if err := m.FailCommit(len(m.commits), ops); err != nil {
			return err
		}
	}

	for _, op := range ops {
		m.applyLocked(op)
	}
	m.commits = append(m.commits, len(ops))
	return nil
}

func checkOp(op ledger.Op) error {
	switch op.Kind {
	case ledger.OpPutTemplate:
		if op.Template == nil {
			return errors.New("put_template without template")
		}
	case ledger.OpPutEntry, ledger.OpUpsertInstance, ledger.OpMergeInstance:
		if op.Entry == nil {
			return fmt.Errorf("%s without entry", op.Kind)
		}
	case ledger.OpDeleteTemplate, ledger.OpDeleteInstance, ledger.OpDeleteEntry:
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func (m *Memory) applyLocked(op ledger.Op) {
	switch op.Kind {
	case ledger.OpPutTemplate:
		m.templates[op.Template.ID] = *op.Template

	case ledger.OpDeleteTemplate:
		delete(m.templates, op.TemplateID)

	case ledger.OpPutEntry:
		m.entries[op.Entry.ID] = *op.Entry

	case ledger.OpUpsertInstance:
		if existing, ok := m.entries[op.Entry.ID]; ok && existing.IsModified() {
			return
		}
		m.entries[op.Entry.ID] = *op.Entry

	case ledger.OpMergeInstance:
		existing, ok := m.entries[op.Entry.ID]
		if !ok || existing.IsModified() {
			return
		}
		existing.Type = op.Entry.Type
		existing.Amount = op.Entry.Amount
		existing.Currency = op.Entry.Currency
		existing.Category = op.Entry.Category
		existing.Description = op.Entry.Description
		existing.UpdatedAt = op.Entry.UpdatedAt
		m.entries[existing.ID] = existing

	case ledger.OpDeleteInstance:
		if existing, ok := m.entries[op.EntryID]; ok && !existing.IsModified() {
			delete(m.entries, op.EntryID)
		}

	case ledger.OpDeleteEntry:
		delete(m.entries, op.EntryID)
	}
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetTemplate(_ context.Context, id ledger.TemplateID) (ledger.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return ledger.Template{}, ledger.ErrTemplateNotFound
	}
	return t, nil
}

func (m *Memory) ListTemplates(_ context.Context, owner ledger.UserID) ([]ledger.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Template
	for _, t := range m.templates {
		if t.OwnerID == owner {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) GetEntry(_ context.Context, id ledger.EntryID) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (m *Memory) ListEntries(_ context.Context, owner ledger.UserID, from, to calendar.Date) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	span := calendar.Range{Start: from, End: to}
	var result []ledger.Entry
	for _, e := range m.entries {
		if e.OwnerID == owner && span.Contains(e.Date) {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result, nil
}

func (m *Memory) QueryInstances(_ context.Context, q ledger.InstanceQuery) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.matchLocked(q)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (m *Memory) CountInstances(_ context.Context, q ledger.InstanceQuery) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.matchLocked(q))
	if q.Limit > 0 && n > q.Limit {
		n = q.Limit
	}
	return n, nil
}

func (m *Memory) matchLocked(q ledger.InstanceQuery) []ledger.Entry {
	var result []ledger.Entry
	for _, e := range m.entries {
		if q.Matches(e) {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result
}

func sortEntries(entries []ledger.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].Date.Compare(entries[j].Date); c != 0 {
			return c < 0
		}
		return entries[i].ID < entries[j].ID
	})
}

// =============================================================================
// TEST SUPPORT
// =============================================================================

// Reset drops every record.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = make(map[ledger.TemplateID]ledger.Template)
	m.entries = make(map[ledger.EntryID]ledger.Entry)
	m.commits = nil
}
