package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/recurrence"
)

// =============================================================================
// RECORDS - Table rows, kept apart from the domain types
// =============================================================================

// Dates are stored as "YYYY-MM-DD" strings and amounts as decimal strings, so
// the same rows read back identically on PostgreSQL, MySQL and SQLite.

type templateRecord struct {
	ID                  string     `gorm:"type:varchar(64);primaryKey"`
	OwnerID             string     `gorm:"type:varchar(64);index:idx_templates_owner,priority:1;not null"`
	EntryType           string     `gorm:"type:varchar(16);not null"`
	Amount              string     `gorm:"type:varchar(40);not null"`
	Currency            string     `gorm:"type:char(3);not null"`
	Category            string     `gorm:"type:varchar(32);not null"`
	Description         string     `gorm:"type:varchar(255);not null;default:''"`
	Frequency           string     `gorm:"type:varchar(16);not null"`
	IntervalN           int        `gorm:"column:interval_n;not null"`
	EndDate             string     `gorm:"type:char(10);not null"`
	DaysOfWeek          *string    `gorm:"type:varchar(32)"`
	DayOfMonth          int        `gorm:"not null;default:0"`
	StartDate           string     `gorm:"type:char(10);not null"`
	InstancesCreated    int        `gorm:"not null;default:0"`
	MaterializedThrough *string    `gorm:"type:char(10)"`
	CreatedBy           string     `gorm:"type:varchar(64);not null"`
	CreatedAt           time.Time  `gorm:"autoCreateTime:false;index:idx_templates_owner,priority:2"`
	UpdatedAt           *time.Time `gorm:"autoUpdateTime:false"`
}

func (templateRecord) TableName() string { return "recurring_templates" }

type entryRecord struct {
	ID           string    `gorm:"type:varchar(80);primaryKey"`
	OwnerID      string    `gorm:"type:varchar(64);index:idx_entries_owner_date,priority:1;not null"`
	EntryType    string    `gorm:"type:varchar(16);not null"`
	Amount       string    `gorm:"type:varchar(40);not null"`
	Currency     string    `gorm:"type:char(3);not null"`
	Category     string    `gorm:"type:varchar(32);not null"`
	Description  string    `gorm:"type:varchar(255);not null;default:''"`
	Date         string    `gorm:"type:char(10);index:idx_entries_owner_date,priority:2;index:idx_entries_template_date,priority:2;not null"`
	TemplateID   *string   `gorm:"type:varchar(64);index:idx_entries_template_date,priority:1"`
	OriginalDate *string   `gorm:"type:char(10)"`
	IsModified   bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (entryRecord) TableName() string { return "entries" }

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTemplateRecord(t ledger.Template) (templateRecord, error) {
	rec := templateRecord{
		ID:               string(t.ID),
		OwnerID:          string(t.OwnerID),
		EntryType:        string(t.Entry.Type),
		Amount:           t.Entry.Amount.String(),
		Currency:         t.Entry.Currency,
		Category:         string(t.Entry.Category),
		Description:      t.Entry.Description,
		Frequency:        string(t.Recurrence.Frequency),
		IntervalN:        t.Recurrence.Interval,
		EndDate:          t.Recurrence.EndDate.String(),
		DayOfMonth:       t.Recurrence.DayOfMonth,
		StartDate:        t.StartDate.String(),
		InstancesCreated: t.InstancesCreated,
		CreatedBy:        string(t.CreatedBy),
		CreatedAt:        t.CreatedAt.UTC(),
	}
	if t.Recurrence.DaysOfWeek != nil {
		raw, err := json.Marshal(t.Recurrence.DaysOfWeek)
		if err != nil {
			return rec, err
		}
		s := string(raw)
		rec.DaysOfWeek = &s
	}
	if !t.MaterializedThrough.IsZero() {
		through := t.MaterializedThrough.String()
		rec.MaterializedThrough = &through
	}
	if t.UpdatedAt != nil {
		u := t.UpdatedAt.UTC()
		rec.UpdatedAt = &u
	}
	return rec, nil
}

func (r templateRecord) toTemplate() (ledger.Template, error) {
	t := ledger.Template{
		ID:      ledger.TemplateID(r.ID),
		OwnerID: ledger.UserID(r.OwnerID),
		Entry: ledger.EntryTemplate{
			Type:        ledger.EntryType(r.EntryType),
			Currency:    r.Currency,
			Category:    ledger.Category(r.Category),
			Description: r.Description,
		},
		Recurrence: recurrence.Rule{
			Frequency:  recurrence.Frequency(r.Frequency),
			Interval:   r.IntervalN,
			DayOfMonth: r.DayOfMonth,
		},
		InstancesCreated: r.InstancesCreated,
		CreatedBy:        ledger.UserID(r.CreatedBy),
		CreatedAt:        r.CreatedAt.UTC(),
	}

	var err error
	if t.Entry.Amount, err = decimal.NewFromString(r.Amount); err != nil {
		return t, fmt.Errorf("template %s: bad amount %q: %w", r.ID, r.Amount, err)
	}
	if t.Recurrence.EndDate, err = calendar.Parse(r.EndDate); err != nil {
		return t, fmt.Errorf("template %s: %w", r.ID, err)
	}
	if t.StartDate, err = calendar.Parse(r.StartDate); err != nil {
		return t, fmt.Errorf("template %s: %w", r.ID, err)
	}
	if r.DaysOfWeek != nil {
		t.Recurrence.DaysOfWeek = []time.Weekday{}
		if err := json.Unmarshal([]byte(*r.DaysOfWeek), &t.Recurrence.DaysOfWeek); err != nil {
			return t, fmt.Errorf("template %s: bad days_of_week: %w", r.ID, err)
		}
	}
	if r.MaterializedThrough != nil {
		if t.MaterializedThrough, err = calendar.Parse(*r.MaterializedThrough); err != nil {
			return t, fmt.Errorf("template %s: %w", r.ID, err)
		}
	}
	if r.UpdatedAt != nil {
		u := r.UpdatedAt.UTC()
		t.UpdatedAt = &u
	}
	return t, nil
}

func toEntryRecord(e ledger.Entry) entryRecord {
	rec := entryRecord{
		ID:          string(e.ID),
		OwnerID:     string(e.OwnerID),
		EntryType:   string(e.Type),
		Amount:      e.Amount.String(),
		Currency:    e.Currency,
		Category:    string(e.Category),
		Description: e.Description,
		Date:        e.Date.String(),
		IsModified:  e.IsModified(),
		CreatedAt:   e.CreatedAt.UTC(),
		UpdatedAt:   e.UpdatedAt.UTC(),
	}
	if e.TemplateID != "" {
		id := string(e.TemplateID)
		rec.TemplateID = &id
	}
	if !e.OriginalDate.IsZero() {
		d := e.OriginalDate.String()
		rec.OriginalDate = &d
	}
	return rec
}

func (r entryRecord) toEntry() (ledger.Entry, error) {
	e := ledger.Entry{
		ID:          ledger.EntryID(r.ID),
		OwnerID:     ledger.UserID(r.OwnerID),
		Type:        ledger.EntryType(r.EntryType),
		Currency:    r.Currency,
		Category:    ledger.Category(r.Category),
		Description: r.Description,
		State:       ledger.StateFromModified(r.IsModified),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}

	var err error
	if e.Amount, err = decimal.NewFromString(r.Amount); err != nil {
		return e, fmt.Errorf("entry %s: bad amount %q: %w", r.ID, r.Amount, err)
	}
	if e.Date, err = calendar.Parse(r.Date); err != nil {
		return e, fmt.Errorf("entry %s: %w", r.ID, err)
	}
	if r.TemplateID != nil {
		e.TemplateID = ledger.TemplateID(*r.TemplateID)
	}
	if r.OriginalDate != nil {
		if e.OriginalDate, err = calendar.Parse(*r.OriginalDate); err != nil {
			return e, fmt.Errorf("entry %s: %w", r.ID, err)
		}
	}
	return e, nil
}

// blueprintColumns are the fields a merge may touch.
func blueprintColumns(e ledger.Entry) map[string]any {
	return map[string]any{
		"entry_type":  string(e.Type),
		"amount":      e.Amount.String(),
		"currency":    e.Currency,
		"category":    string(e.Category),
		"description": e.Description,
		"updated_at":  e.UpdatedAt.UTC(),
	}
}

// allColumns are the fields a template-owned upsert overwrites.
func allColumns(rec entryRecord) map[string]any {
	return map[string]any{
		"owner_id":      rec.OwnerID,
		"entry_type":    rec.EntryType,
		"amount":        rec.Amount,
		"currency":      rec.Currency,
		"category":      rec.Category,
		"description":   rec.Description,
		"date":          rec.Date,
		"template_id":   rec.TemplateID,
		"original_date": rec.OriginalDate,
		"is_modified":   rec.IsModified,
		"created_at":    rec.CreatedAt,
		"updated_at":    rec.UpdatedAt,
	}
}
