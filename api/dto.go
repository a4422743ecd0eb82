/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Templates:
    CreateTemplateRequest, UpdateTemplateRequest, TemplateDTO

  Entries:
    CreateEntryRequest, UpdateEntryRequest, EntryDTO

  Aggregates:
    UpcomingDTO

VALIDATION:
  Request shapes are checked with validator struct tags before anything
  reaches the domain. Domain rules (positive amount, known category, rule
  consistency) are checked again by ledger and recurrence, which own them.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/recurrence"
	"github.com/warp/expense-ledger/series"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// EntryFields is the blueprint part shared by template and entry requests.
type EntryFields struct {
	Type        string `json:"type" validate:"required,oneof=expense income"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Currency    string `json:"currency" validate:"required,len=3,uppercase"`
	Category    string `json:"category" validate:"required"`
	Description string `json:"description" validate:"max=200"`
}

// RuleFields is the recurrence part of template requests.
type RuleFields struct {
	Frequency  string `json:"frequency" validate:"required,oneof=daily weekly monthly yearly"`
	Interval   *int   `json:"interval" validate:"omitempty,min=1"`
	EndDate    string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	DaysOfWeek []int  `json:"days_of_week" validate:"omitempty,dive,min=0,max=6"`
	DayOfMonth int    `json:"day_of_month" validate:"omitempty,min=1,max=31"`
}

// CreateTemplateRequest starts a recurring series. ID is optional; a client
// that picks it can safely repeat the request after a failure.
type CreateTemplateRequest struct {
	ID string `json:"id" validate:"omitempty,max=64,excludesall=/?#%"`
	EntryFields
	RuleFields
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
}

// UpdateTemplateRequest replaces blueprint and rule going forward. The start
// date of a series never changes; an absent end date keeps the current one.
type UpdateTemplateRequest struct {
	EntryFields
	RuleFields
}

// CreateEntryRequest records a one-off entry.
type CreateEntryRequest struct {
	EntryFields
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// UpdateEntryRequest changes some fields of an entry. Absent = unchanged.
type UpdateEntryRequest struct {
	Type        *string `json:"type" validate:"omitempty,oneof=expense income"`
	Amount      *string `json:"amount" validate:"omitempty,numeric"`
	Currency    *string `json:"currency" validate:"omitempty,len=3,uppercase"`
	Category    *string `json:"category" validate:"omitempty,min=1"`
	Description *string `json:"description" validate:"omitempty,max=200"`
	Date        *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TemplateDTO is a template with its aggregates.
type TemplateDTO struct {
	ID               string `json:"id"`
	OwnerID          string `json:"owner_id"`
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Category         string `json:"category"`
	Description      string `json:"description,omitempty"`
	Frequency        string `json:"frequency"`
	Interval         int    `json:"interval"`
	EndDate          string `json:"end_date"`
	DaysOfWeek       []int  `json:"days_of_week,omitempty"`
	DayOfMonth       int    `json:"day_of_month,omitempty"`
	StartDate        string `json:"start_date"`
	Status           string `json:"status"` // "active", or "incomplete" after a failed write
	InstancesCreated int    `json:"instances_created"`
	CreatedBy        string `json:"created_by"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at,omitempty"`
	NextOccurrence   string `json:"next_occurrence,omitempty"`
	RemainingCount   int    `json:"remaining_count"`
}

// EntryDTO is a one-off entry or a recurring instance.
type EntryDTO struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Category     string `json:"category"`
	Description  string `json:"description,omitempty"`
	Date         string `json:"date"`
	TemplateID   string `json:"template_id,omitempty"`
	OriginalDate string `json:"original_date,omitempty"`
	IsModified   bool   `json:"is_modified"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// UpcomingDTO totals future recurring instances in one currency.
type UpcomingDTO struct {
	Currency  string `json:"currency"`
	Expenses  string `json:"expenses"`
	Income    string `json:"income"`
	Net       string `json:"net"`
	Instances int    `json:"instances"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func (f EntryFields) blueprint() (ledger.EntryTemplate, error) {
	amount, err := decimal.NewFromString(f.Amount)
	if err != nil {
		return ledger.EntryTemplate{}, &ledger.EntryError{Field: "amount", Reason: "is not a decimal number"}
	}
	return ledger.EntryTemplate{
		Type:        ledger.EntryType(f.Type),
		Amount:      amount,
		Currency:    f.Currency,
		Category:    ledger.Category(f.Category),
		Description: f.Description,
	}, nil
}

func (f RuleFields) rule() (recurrence.Rule, error) {
	r := recurrence.Rule{
		Frequency:  recurrence.Frequency(f.Frequency),
		Interval:   1,
		DayOfMonth: f.DayOfMonth,
	}
	if f.Interval != nil {
		r.Interval = *f.Interval
	}
	if f.EndDate != "" {
		end, err := calendar.Parse(f.EndDate)
		if err != nil {
			return recurrence.Rule{}, &recurrence.RuleError{Field: "endDate", Reason: "is not a date"}
		}
		r.EndDate = end
	}
	if f.DaysOfWeek != nil {
		r.DaysOfWeek = make([]time.Weekday, len(f.DaysOfWeek))
		for i, wd := range f.DaysOfWeek {
			r.DaysOfWeek[i] = time.Weekday(wd)
		}
	}
	return r, nil
}

func (req CreateTemplateRequest) toTemplate(owner ledger.UserID) (ledger.Template, error) {
	entry, err := req.blueprint()
	if err != nil {
		return ledger.Template{}, err
	}
	rule, err := req.rule()
	if err != nil {
		return ledger.Template{}, err
	}
	start, err := calendar.Parse(req.StartDate)
	if err != nil {
		return ledger.Template{}, &recurrence.RuleError{Field: "startDate", Reason: "is not a date"}
	}
	return ledger.Template{
		ID:         ledger.TemplateID(req.ID),
		OwnerID:    owner,
		CreatedBy:  owner,
		Entry:      entry,
		Recurrence: rule,
		StartDate:  start,
	}, nil
}

func (req UpdateTemplateRequest) toUpdate() (series.TemplateUpdate, error) {
	entry, err := req.blueprint()
	if err != nil {
		return series.TemplateUpdate{}, err
	}
	rule, err := req.rule()
	if err != nil {
		return series.TemplateUpdate{}, err
	}
	return series.TemplateUpdate{Entry: entry, Recurrence: rule}, nil
}

func (req CreateEntryRequest) toEntry(owner ledger.UserID) (ledger.Entry, error) {
	bp, err := req.blueprint()
	if err != nil {
		return ledger.Entry{}, err
	}
	day, err := calendar.Parse(req.Date)
	if err != nil {
		return ledger.Entry{}, &ledger.EntryError{Field: "date", Reason: "is not a date"}
	}
	return ledger.Entry{
		OwnerID:     owner,
		Type:        bp.Type,
		Amount:      bp.Amount,
		Currency:    bp.Currency,
		Category:    bp.Category,
		Description: bp.Description,
		Date:        day,
	}, nil
}

func (req UpdateEntryRequest) toPatch() (series.EntryPatch, error) {
	var p series.EntryPatch
	if req.Type != nil {
		t := ledger.EntryType(*req.Type)
		p.Type = &t
	}
	if req.Amount != nil {
		a, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			return p, &ledger.EntryError{Field: "amount", Reason: "is not a decimal number"}
		}
		p.Amount = &a
	}
	if req.Category != nil {
		c := ledger.Category(*req.Category)
		p.Category = &c
	}
	if req.Date != nil {
		d, err := calendar.Parse(*req.Date)
		if err != nil {
			return p, &ledger.EntryError{Field: "date", Reason: "is not a date"}
		}
		p.Date = &d
	}
	p.Currency = req.Currency
	p.Description = req.Description
	return p, nil
}

func toTemplateDTO(sum series.Summary) TemplateDTO {
	t := sum.Template
	dto := TemplateDTO{
		ID:               string(t.ID),
		OwnerID:          string(t.OwnerID),
		Type:             string(t.Entry.Type),
		Amount:           t.Entry.Amount.String(),
		Currency:         t.Entry.Currency,
		Category:         string(t.Entry.Category),
		Description:      t.Entry.Description,
		Frequency:        string(t.Recurrence.Frequency),
		Interval:         t.Recurrence.Interval,
		EndDate:          t.Recurrence.EndDate.String(),
		DayOfMonth:       t.Recurrence.DayOfMonth,
		StartDate:        t.StartDate.String(),
		Status:           "active",
		InstancesCreated: t.InstancesCreated,
		CreatedBy:        string(t.CreatedBy),
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
		RemainingCount:   sum.Remaining,
	}
	for _, wd := range t.Recurrence.DaysOfWeek {
		dto.DaysOfWeek = append(dto.DaysOfWeek, int(wd))
	}
	if !t.Complete() {
		dto.Status = "incomplete"
	}
	if t.UpdatedAt != nil {
		dto.UpdatedAt = t.UpdatedAt.Format(time.RFC3339)
	}
	if sum.HasNext {
		dto.NextOccurrence = sum.Next.String()
	}
	return dto
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:          string(e.ID),
		OwnerID:     string(e.OwnerID),
		Type:        string(e.Type),
		Amount:      e.Amount.String(),
		Currency:    e.Currency,
		Category:    string(e.Category),
		Description: e.Description,
		Date:        e.Date.String(),
		TemplateID:  string(e.TemplateID),
		IsModified:  e.IsModified(),
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.Format(time.RFC3339),
	}
	if !e.OriginalDate.IsZero() {
		dto.OriginalDate = e.OriginalDate.String()
	}
	return dto
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}
