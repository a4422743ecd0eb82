/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists recurring templates and ledger entries in two tables. The engine
  never issues SQL itself; it hands Commit a list of ledger.Op values and each
  call runs inside one database transaction.

KEY TABLES:
  templates: one row per recurring template (blueprint + rule)
  entries:   every ledger row; recurring instances carry template_id,
             original_date and is_modified

CONDITIONAL WRITES:
  The instance ops re-check is_modified in the statement itself:
  - upsert:  INSERT ... ON CONFLICT(id) DO UPDATE ... WHERE is_modified = 0
  - merge:   UPDATE ... WHERE id = ? AND is_modified = 0
  - delete:  DELETE ... WHERE id = ? AND is_modified = 0
  A user edit committed between the engine's read and its write wins.

STORAGE FORMATS:
  Dates are TEXT "YYYY-MM-DD" so range filters compare lexicographically.
  Amounts are TEXT decimals; timestamps are RFC3339 in UTC.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead (store/gormstore).

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block and
  there is a single writer at a time.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - ledger/storetest: Conformance suite
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	limit int
}

// Option configures a Store.
type Option func(*Store)

// WithBatchLimit overrides ledger.DefaultBatchLimit.
func WithBatchLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// Every new connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, limit: ledger.DefaultBatchLimit}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL,
		interval_n INTEGER NOT NULL,
		end_date TEXT NOT NULL,
		days_of_week TEXT,
		day_of_month INTEGER NOT NULL DEFAULT 0,
		start_date TEXT NOT NULL,
		instances_created INTEGER NOT NULL DEFAULT 0,
		materialized_through TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_templates_owner
		ON templates(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		template_id TEXT,
		original_date TEXT,
		is_modified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: a template's instances by date (aggregates, regeneration, stop)
	CREATE INDEX IF NOT EXISTS idx_entries_template_date
		ON entries(template_id, date) WHERE template_id IS NOT NULL;

	-- Ledger listing
	CREATE INDEX IF NOT EXISTS idx_entries_owner_date
		ON entries(owner_id, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COMMIT (ledger.Committer)
// =============================================================================

func (s *Store) BatchLimit() int { return s.limit }

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Commit applies ops in one SQL transaction.
func (s *Store) Commit(ctx context.Context, ops []ledger.Op) error {
	if len(ops) > s.limit {
		return fmt.Errorf("%w: %d ops, limit %d", ledger.ErrBatchTooLarge, len(ops), s.limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		if err := s.apply(ctx, tx, op); err != nil {
			return fmt.Errorf("op %d (%s %s): %w", i, op.Kind, op.Key(), err)
		}
	}

	return tx.Commit()
}

func (s *Store) apply(ctx context.Context, db execer, op ledger.Op) error {
	switch op.Kind {
	case ledger.OpPutTemplate:
		if op.Template == nil {
			return errors.New("missing template")
		}
		return putTemplate(ctx, db, *op.Template)

	case ledger.OpDeleteTemplate:
		_, err := db.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", op.TemplateID)
		return err

	case ledger.OpPutEntry:
		if op.Entry == nil {
			return errors.New("missing entry")
		}
		return upsertEntry(ctx, db, *op.Entry, false)

	case ledger.OpUpsertInstance:
		if op.Entry == nil {
			return errors.New("missing entry")
		}
		return upsertEntry(ctx, db, *op.Entry, true)

	case ledger.OpMergeInstance:
		if op.Entry == nil {
			return errors.New("missing entry")
		}
		e := op.Entry
		_, err := db.ExecContext(ctx, `
			UPDATE entries
			SET entry_type = ?, amount = ?, currency = ?, category = ?, description = ?, updated_at = ?
			WHERE id = ? AND is_modified = 0`,
			e.Type, e.Amount.String(), e.Currency, e.Category, e.Description, formatTime(e.UpdatedAt),
			e.ID,
		)
		return err

	case ledger.OpDeleteInstance:
		_, err := db.ExecContext(ctx, "DELETE FROM entries WHERE id = ? AND is_modified = 0", op.EntryID)
		return err

	case ledger.OpDeleteEntry:
		_, err := db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", op.EntryID)
		return err
	}
	return fmt.Errorf("unknown op kind %d", op.Kind)
}

func putTemplate(ctx context.Context, db execer, t ledger.Template) error {
	days, err := encodeWeekdays(t.Recurrence.DaysOfWeek)
	if err != nil {
		return err
	}

	var updatedAt sql.NullString
	if t.UpdatedAt != nil {
		updatedAt = nullString(formatTime(*t.UpdatedAt))
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO templates
		(id, owner_id, entry_type, amount, currency, category, description,
		 frequency, interval_n, end_date, days_of_week, day_of_month,
		 start_date, instances_created, materialized_through, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			entry_type = excluded.entry_type,
			amount = excluded.amount,
			currency = excluded.currency,
			category = excluded.category,
			description = excluded.description,
			frequency = excluded.frequency,
			interval_n = excluded.interval_n,
			end_date = excluded.end_date,
			days_of_week = excluded.days_of_week,
			day_of_month = excluded.day_of_month,
			start_date = excluded.start_date,
			instances_created = excluded.instances_created,
			materialized_through = excluded.materialized_through,
			created_by = excluded.created_by,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		t.ID, t.OwnerID, t.Entry.Type, t.Entry.Amount.String(), t.Entry.Currency,
		t.Entry.Category, t.Entry.Description,
		t.Recurrence.Frequency, t.Recurrence.Interval, t.Recurrence.EndDate.String(),
		days, t.Recurrence.DayOfMonth,
		t.StartDate.String(), t.InstancesCreated, nullDate(t.MaterializedThrough),
		t.CreatedBy, formatTime(t.CreatedAt), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// upsertEntry writes e. With onlyTemplateOwned the overwrite of an existing
// row happens only while that row is unmodified.
func upsertEntry(ctx context.Context, db execer, e ledger.Entry, onlyTemplateOwned bool) error {
	query := `
		INSERT INTO entries
		(id, owner_id, entry_type, amount, currency, category, description, date,
		 template_id, original_date, is_modified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			entry_type = excluded.entry_type,
			amount = excluded.amount,
			currency = excluded.currency,
			category = excluded.category,
			description = excluded.description,
			date = excluded.date,
			template_id = excluded.template_id,
			original_date = excluded.original_date,
			is_modified = excluded.is_modified,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`
	if onlyTemplateOwned {
		query += `
		WHERE entries.is_modified = 0`
	}

	_, err := db.ExecContext(ctx, query,
		e.ID, e.OwnerID, e.Type, e.Amount.String(), e.Currency, e.Category, e.Description,
		e.Date.String(), nullString(string(e.TemplateID)), nullDate(e.OriginalDate),
		boolInt(e.IsModified()), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// =============================================================================
// TEMPLATES
// =============================================================================

const templateColumns = `id, owner_id, entry_type, amount, currency, category, description,
	frequency, interval_n, end_date, days_of_week, day_of_month,
	start_date, instances_created, materialized_through, created_by, created_at, updated_at`

func (s *Store) GetTemplate(ctx context.Context, id ledger.TemplateID) (ledger.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM templates WHERE id = ?", id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Template{}, ledger.ErrTemplateNotFound
	}
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context, owner ledger.UserID) ([]ledger.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE owner_id = ? ORDER BY created_at ASC, id ASC",
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []ledger.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (ledger.Template, error) {
	var (
		t          ledger.Template
		amount     string
		endDate    string
		daysOfWeek sql.NullString
		startDate  string
		through    sql.NullString
		createdAt  string
		updatedAt  sql.NullString
	)

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Entry.Type, &amount, &t.Entry.Currency, &t.Entry.Category, &t.Entry.Description,
		&t.Recurrence.Frequency, &t.Recurrence.Interval, &endDate, &daysOfWeek, &t.Recurrence.DayOfMonth,
		&startDate, &t.InstancesCreated, &through, &t.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan template: %w", err)
	}

	if t.Entry.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, fmt.Errorf("template %s: bad amount %q: %w", t.ID, amount, err)
	}
	if t.Recurrence.EndDate, err = calendar.Parse(endDate); err != nil {
		return t, fmt.Errorf("template %s: %w", t.ID, err)
	}
	if t.StartDate, err = calendar.Parse(startDate); err != nil {
		return t, fmt.Errorf("template %s: %w", t.ID, err)
	}
	if t.Recurrence.DaysOfWeek, err = decodeWeekdays(daysOfWeek); err != nil {
		return t, fmt.Errorf("template %s: %w", t.ID, err)
	}
	if through.Valid {
		if t.MaterializedThrough, err = calendar.Parse(through.String); err != nil {
			return t, fmt.Errorf("template %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = parseTime(createdAt)
	if updatedAt.Valid {
		u := parseTime(updatedAt.String)
		t.UpdatedAt = &u
	}
	return t, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, owner_id, entry_type, amount, currency, category, description, date,
	template_id, original_date, is_modified, created_at, updated_at`

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, err
}

func (s *Store) ListEntries(ctx context.Context, owner ledger.UserID, from, to calendar.Date) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE owner_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC`,
		owner, from.String(), to.String(),
	)
}

func (s *Store) QueryInstances(ctx context.Context, q ledger.InstanceQuery) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := instanceFilter(q)
	query := "SELECT " + entryColumns + " FROM entries WHERE " + where + " ORDER BY date ASC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return s.queryEntries(ctx, query, args...)
}

func (s *Store) CountInstances(ctx context.Context, q ledger.InstanceQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := instanceFilter(q)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	if q.Limit > 0 && count > q.Limit {
		count = q.Limit
	}
	return count, nil
}

func instanceFilter(q ledger.InstanceQuery) (string, []any) {
	clauses := []string{"template_id = ?"}
	args := []any{q.TemplateID}
	if !q.From.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, q.From.String())
	}
	if !q.After.IsZero() {
		clauses = append(clauses, "date > ?")
		args = append(args, q.After.String())
	}
	if q.OnlyTemplateOwned {
		clauses = append(clauses, "is_modified = 0")
	}
	return strings.Join(clauses, " AND "), args
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e            ledger.Entry
		amount       string
		date         string
		templateID   sql.NullString
		originalDate sql.NullString
		modified     int
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Type, &amount, &e.Currency, &e.Category, &e.Description, &date,
		&templateID, &originalDate, &modified, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("entry %s: bad amount %q: %w", e.ID, amount, err)
	}
	if e.Date, err = calendar.Parse(date); err != nil {
		return e, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if originalDate.Valid {
		if e.OriginalDate, err = calendar.Parse(originalDate.String); err != nil {
			return e, fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}
	e.TemplateID = ledger.TemplateID(templateID.String)
	e.State = ledger.StateFromModified(modified != 0)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d calendar.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// encodeWeekdays keeps nil (no filter) distinct from an explicit selection.
func encodeWeekdays(days []time.Weekday) (sql.NullString, error) {
	if days == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return sql.NullString{}, err
	}
	return nullString(string(raw)), nil
}

func decodeWeekdays(raw sql.NullString) ([]time.Weekday, error) {
	if !raw.Valid {
		return nil, nil
	}
	days := []time.Weekday{}
	if err := json.Unmarshal([]byte(raw.String), &days); err != nil {
		return nil, fmt.Errorf("bad days_of_week %q: %w", raw.String, err)
	}
	return days, nil
}

var _ ledger.Store = (*Store)(nil)
