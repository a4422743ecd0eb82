/*
store.go - Persistence contract for templates and entries

PURPOSE:
  Defines the interface between the recurrence engine and the database.
  Different implementations use SQLite, PostgreSQL (through GORM) or memory.

KEY INTERFACES:
  Store:     reads, instance queries, atomic batch commit
  Committer: the write half, used by BatchWriter

ATOMIC BATCHES:
  Commit() applies a list of Ops all-or-nothing. A store advertises how many
  ops one batch may hold (BatchLimit); larger writes are chunked by
  BatchWriter, and atomicity then only holds per chunk.

CONDITIONAL OPS:
  The instance ops re-check ownership at write time, inside the batch:
  - OpUpsertInstance: insert, or overwrite only a template-owned row
  - OpMergeInstance:  update blueprint fields of a template-owned row;
                      missing or user-owned rows are left alone
  - OpDeleteInstance: delete only a template-owned row
  A user edit that lands between the engine's read and its write is therefore
  never overwritten or deleted.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/gormstore/gormstore.go: GORM (PostgreSQL in production)

SEE ALSO:
  - batch.go: Chunked writer over Committer
  - ledger/storetest: Conformance suite every implementation runs
*/
package ledger

import (
	"context"

	"github.com/warp/expense-ledger/calendar"
)

// DefaultBatchLimit is the maximum number of ops per atomic batch unless a
// store is configured otherwise.
const DefaultBatchLimit = 500

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Committer

	// GetTemplate returns ErrTemplateNotFound when the template doesn't exist.
	GetTemplate(ctx context.Context, id TemplateID) (Template, error)

	// ListTemplates returns the owner's templates ordered by creation time.
	ListTemplates(ctx context.Context, owner UserID) ([]Template, error)

	// GetEntry returns ErrEntryNotFound when the entry doesn't exist.
	GetEntry(ctx context.Context, id EntryID) (Entry, error)

	// ListEntries returns the owner's entries with date in [from, to],
	// ordered by date then id.
	ListEntries(ctx context.Context, owner UserID, from, to calendar.Date) ([]Entry, error)

	// QueryInstances returns a template's instances matching q, ordered by
	// date then id.
	QueryInstances(ctx context.Context, q InstanceQuery) ([]Entry, error)

	// CountInstances counts without loading rows.
	CountInstances(ctx context.Context, q InstanceQuery) (int, error)
}

// Committer is the write half of a Store.
type Committer interface {
	// Commit applies ops atomically. len(ops) must not exceed BatchLimit().
	Commit(ctx context.Context, ops []Op) error

	// BatchLimit is the maximum number of ops per Commit.
	BatchLimit() int
}

// =============================================================================
// INSTANCE QUERY
// =============================================================================

// InstanceQuery selects instances of one template. Zero-valued bounds are
// ignored.
type InstanceQuery struct {
	TemplateID        TemplateID
	From              calendar.Date // date >= From
	After             calendar.Date // date > After
	OnlyTemplateOwned bool
	Limit             int // 0 = no limit
}

// Matches applies the query filters to a single entry.
func (q InstanceQuery) Matches(e Entry) bool {
	if e.TemplateID != q.TemplateID {
		return false
	}
	if !q.From.IsZero() && e.Date.Before(q.From) {
		return false
	}
	if !q.After.IsZero() && !e.Date.After(q.After) {
		return false
	}
	if q.OnlyTemplateOwned && e.IsModified() {
		return false
	}
	return true
}

// =============================================================================
// OPS - Units of an atomic batch
// =============================================================================

type OpKind int

const (
	OpPutTemplate    OpKind = iota + 1 // insert or replace a template
	OpDeleteTemplate                   // delete a template (instances untouched)
	OpPutEntry                         // insert or replace an entry unconditionally
	OpUpsertInstance                   // insert, or overwrite a template-owned row
	OpMergeInstance                    // update blueprint fields of a template-owned row
	OpDeleteInstance                   // delete a template-owned row
	OpDeleteEntry                      // delete an entry unconditionally
)

func (k OpKind) String() string {
	switch k {
	case OpPutTemplate:
		return "put_template"
	case OpDeleteTemplate:
		return "delete_template"
	case OpPutEntry:
		return "put_entry"
	case OpUpsertInstance:
		return "upsert_instance"
	case OpMergeInstance:
		return "merge_instance"
	case OpDeleteInstance:
		return "delete_instance"
	case OpDeleteEntry:
		return "delete_entry"
	default:
		return "unknown"
	}
}

type Op struct {
	Kind       OpKind
	Template   *Template  // OpPutTemplate
	Entry      *Entry     // OpPutEntry, OpUpsertInstance, OpMergeInstance
	TemplateID TemplateID // OpDeleteTemplate
	EntryID    EntryID    // OpDeleteInstance, OpDeleteEntry
}

func PutTemplate(t Template) Op       { return Op{Kind: OpPutTemplate, Template: &t} }
func DeleteTemplate(id TemplateID) Op { return Op{Kind: OpDeleteTemplate, TemplateID: id} }
func PutEntry(e Entry) Op             { return Op{Kind: OpPutEntry, Entry: &e} }
func UpsertInstance(e Entry) Op       { return Op{Kind: OpUpsertInstance, Entry: &e} }
func MergeInstance(e Entry) Op        { return Op{Kind: OpMergeInstance, Entry: &e} }
func DeleteInstance(id EntryID) Op    { return Op{Kind: OpDeleteInstance, EntryID: id} }
func DeleteEntry(id EntryID) Op       { return Op{Kind: OpDeleteEntry, EntryID: id} }

// Key returns the primary key the op writes, or "" for a malformed op.
func (o Op) Key() string {
	switch o.Kind {
	case OpPutTemplate:
		if o.Template == nil {
			return ""
		}
		return string(o.Template.ID)
	case OpDeleteTemplate:
		return string(o.TemplateID)
	case OpPutEntry, OpUpsertInstance, OpMergeInstance:
		if o.Entry == nil {
			return ""
		}
		return string(o.Entry.ID)
	default:
		return string(o.EntryID)
	}
}
