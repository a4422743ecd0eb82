/*
Package gormstore implements ledger.Store on top of GORM.

PURPOSE:
  The production store. PostgreSQL is the primary target; MySQL and SQLite
  dialects work through the same code because every statement is expressed
  with GORM's query builder and portable column types.

CONDITIONAL WRITES:
  - upsert: UPDATE ... WHERE is_modified = false, and when nothing matched,
    INSERT ... ON CONFLICT DO NOTHING
  - merge:  UPDATE ... WHERE id = ? AND is_modified = false
  - delete: DELETE ... WHERE id = ? AND is_modified = false
    Each Commit runs in one db.Transaction.

USAGE:
  dialector, err := gormstore.Dialector("postgres", dsn)
  store, err := gormstore.Open(dialector, gormstore.WithLogger(log))

SEE ALSO:
  - models.go: Table records and conversions
  - store/sqlite: database/sql implementation of the same contract
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db    *gorm.DB
	limit int
}

type options struct {
	limit    int
	log      logrus.FieldLogger
	tracing  bool
	maxConns int
}

// Option configures Open.
type Option func(*options)

// WithBatchLimit overrides ledger.DefaultBatchLimit.
func WithBatchLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithLogger routes GORM's warnings and slow queries to log.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithTracing installs the OpenTelemetry GORM plugin.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxConns = n }
}

// Dialector maps a driver name to its GORM dialector.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported gorm driver %q", driver)
}

// Open connects, migrates the schema and returns the store.
func Open(dialector gorm.Dialector, opts ...Option) (*Store, error) {
	o := options{limit: ledger.DefaultBatchLimit}
	for _, opt := range opts {
		opt(&o)
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if o.log != nil {
		gormLogger = logger.New(o.log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if o.maxConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(o.maxConns)
	}

	if o.tracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("install tracing plugin: %w", err)
		}
	}

	if err := db.AutoMigrate(&templateRecord{}, &entryRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Store{db: db, limit: o.limit}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// COMMIT
// =============================================================================

func (s *Store) BatchLimit() int { return s.limit }

func (s *Store) Commit(ctx context.Context, ops []ledger.Op) error {
	if len(ops) > s.limit {
		return fmt.Errorf("%w: %d ops, limit %d", ledger.ErrBatchTooLarge, len(ops), s.limit)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, op := range ops {
			if err := apply(tx, op); err != nil {
				return fmt.Errorf("op %d (%s %s): %w", i, op.Kind, op.Key(), err)
			}
		}
		return nil
	})
}

func apply(tx *gorm.DB, op ledger.Op) error {
	switch op.Kind {
	case ledger.OpPutTemplate:
		if op.Template == nil {
			return errors.New("missing template")
		}
		rec, err := toTemplateRecord(*op.Template)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error

	case ledger.OpDeleteTemplate:
		return tx.Where("id = ?", string(op.TemplateID)).Delete(&templateRecord{}).Error

	case ledger.OpPutEntry:
		if op.Entry == nil {
			return errors.New("missing entry")
		}
		rec := toEntryRecord(*op.Entry)
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error

	case ledger.OpUpsertInstance:
		if op.Entry == nil {
			return errors.New("missing entry")
		}
		rec := toEntryRecord(*op.Entry)
		res := tx.Model(&entryRecord{}).
			Where("id = ? AND is_modified = ?", rec.ID, false).
			Updates(allColumns(rec))
		if res.Error != nil || res.RowsAffected > 0 {
			return res.Error
		}
		// Absent, or owned by the user: insert and let a conflict be a no-op.
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error

	case ledger.OpMergeInstance:
		if op.Entry == nil {
			return errors.New("missing entry")
		}
		return tx.Model(&entryRecord{}).
			Where("id = ? AND is_modified = ?", string(op.Entry.ID), false).
			Updates(blueprintColumns(*op.Entry)).Error

	case ledger.OpDeleteInstance:
		return tx.Where("id = ? AND is_modified = ?", string(op.EntryID), false).Delete(&entryRecord{}).Error

	case ledger.OpDeleteEntry:
		return tx.Where("id = ?", string(op.EntryID)).Delete(&entryRecord{}).Error
	}
	return fmt.Errorf("unknown op kind %d", op.Kind)
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) GetTemplate(ctx context.Context, id ledger.TemplateID) (ledger.Template, error) {
	var rec templateRecord
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Template{}, ledger.ErrTemplateNotFound
	}
	if err != nil {
		return ledger.Template{}, fmt.Errorf("get template: %w", err)
	}
	return rec.toTemplate()
}

func (s *Store) ListTemplates(ctx context.Context, owner ledger.UserID) ([]ledger.Template, error) {
	var recs []templateRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", string(owner)).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]ledger.Template, 0, len(recs))
	for _, rec := range recs {
		t, err := rec.toTemplate()
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	var rec entryRecord
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return rec.toEntry()
}

func (s *Store) ListEntries(ctx context.Context, owner ledger.UserID, from, to calendar.Date) ([]ledger.Entry, error) {
	q := s.db.WithContext(ctx).
		Where("owner_id = ? AND date >= ? AND date <= ?", string(owner), from.String(), to.String())
	return findEntries(q)
}

func (s *Store) QueryInstances(ctx context.Context, q ledger.InstanceQuery) ([]ledger.Entry, error) {
	db := instanceScope(s.db.WithContext(ctx), q)
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	return findEntries(db)
}

func (s *Store) CountInstances(ctx context.Context, q ledger.InstanceQuery) (int, error) {
	var n int64
	if err := instanceScope(s.db.WithContext(ctx).Model(&entryRecord{}), q).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	if q.Limit > 0 && n > int64(q.Limit) {
		n = int64(q.Limit)
	}
	return int(n), nil
}

func instanceScope(db *gorm.DB, q ledger.InstanceQuery) *gorm.DB {
	db = db.Where("template_id = ?", string(q.TemplateID))
	if !q.From.IsZero() {
		db = db.Where("date >= ?", q.From.String())
	}
	if !q.After.IsZero() {
		db = db.Where("date > ?", q.After.String())
	}
	if q.OnlyTemplateOwned {
		db = db.Where("is_modified = ?", false)
	}
	return db
}

func findEntries(db *gorm.DB) ([]ledger.Entry, error) {
	var recs []entryRecord
	if err := db.Order("date ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(recs))
	for _, rec := range recs {
		e, err := rec.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ ledger.Store = (*Store)(nil)
