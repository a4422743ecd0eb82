/*
Package ledger defines the persisted data model of the expense ledger.

PURPOSE:
  A Template is a recurrence rule plus the blueprint of the entry it stamps
  out. An Entry is one concrete transaction on one day; recurring instances are
  entries that remember which template produced them and for which occurrence
  date. Everything that touches storage goes through the Store contract in
  store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - EntryTemplate: type, amount, currency, category, description (never a date)
  - Template: blueprint + rule + start date + bookkeeping
  - Entry: a ledger row, possibly a recurring instance
  - InstanceState: who owns an instance, the template or the user

DESIGN PRINCIPLES:
 1. Precision: amounts are decimal.Decimal, never float
 2. Type Safety: distinct ID types for users, templates and entries
 3. One-way ownership: once a user edits an instance it is theirs forever

SEE ALSO:
  - identity.go: Deterministic instance keys
  - store.go: Persistence contract and batch operations
  - batch.go: Bounded batch writer
*/
package ledger

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/recurrence"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TemplateID string
type EntryID string

// =============================================================================
// ENTRY TYPE AND CATEGORY
// =============================================================================

type EntryType string

const (
	Expense EntryType = "expense"
	Income  EntryType = "income"
)

func (t EntryType) Valid() bool { return t == Expense || t == Income }

type Category string

const (
	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryHousing       Category = "housing"
	CategoryUtilities     Category = "utilities"
	CategoryEntertainment Category = "entertainment"
	CategoryHealth        Category = "health"
	CategoryShopping      Category = "shopping"
	CategoryEducation     Category = "education"
	CategoryTravel        Category = "travel"
	CategorySubscriptions Category = "subscriptions"
	CategorySalary        Category = "salary"
	CategoryInvestment    Category = "investment"
	CategoryGift          Category = "gift"
	CategoryOther         Category = "other"
)

var categories = map[Category]bool{
	CategoryFood: true, CategoryTransport: true, CategoryHousing: true,
	CategoryUtilities: true, CategoryEntertainment: true, CategoryHealth: true,
	CategoryShopping: true, CategoryEducation: true, CategoryTravel: true,
	CategorySubscriptions: true, CategorySalary: true, CategoryInvestment: true,
	CategoryGift: true, CategoryOther: true,
}

func (c Category) Valid() bool { return categories[c] }

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// =============================================================================
// ENTRY TEMPLATE - Blueprint stamped onto every instance
// =============================================================================

type EntryTemplate struct {
	Type        EntryType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
}

// Validate checks the blueprint fields.
func (et EntryTemplate) Validate() error {
	if !et.Type.Valid() {
		return &EntryError{Field: "type", Reason: "must be expense or income"}
	}
	if !et.Amount.IsPositive() {
		return &EntryError{Field: "amount", Reason: "must be positive"}
	}
	if !currencyCode.MatchString(et.Currency) {
		return &EntryError{Field: "currency", Reason: "must be a three-letter ISO 4217 code"}
	}
	if !et.Category.Valid() {
		return &EntryError{Field: "category", Reason: "is not a known category"}
	}
	return nil
}

// =============================================================================
// TEMPLATE - Rule + blueprint
// =============================================================================

type Template struct {
	ID               TemplateID
	OwnerID          UserID
	Entry            EntryTemplate
	Recurrence       recurrence.Rule
	StartDate        calendar.Date
	InstancesCreated int

	// MaterializedThrough is the last day whose instances are known to be
	// written. It trails the end date while a create or regenerate is in
	// flight or after one failed part way, and is zero until the first
	// complete write. Missing instances after it were never written; missing
	// instances up to it were deleted by the user.
	MaterializedThrough calendar.Date

	CreatedBy UserID
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Complete reports whether every instance of the series has been written.
func (t Template) Complete() bool {
	return !t.MaterializedThrough.IsZero() && !t.MaterializedThrough.Before(t.Recurrence.EndDate)
}

// Validate checks blueprint and rule together.
func (t Template) Validate() error {
	if t.OwnerID == "" {
		return &EntryError{Field: "ownerId", Reason: "is required"}
	}
	if err := t.Entry.Validate(); err != nil {
		return err
	}
	return t.Recurrence.Validate(t.StartDate)
}

// Instance stamps the blueprint onto one occurrence date.
func (t Template) Instance(occurrence calendar.Date, now time.Time) Entry {
	return Entry{
		ID:           InstanceID(t.ID, occurrence),
		OwnerID:      t.OwnerID,
		Type:         t.Entry.Type,
		Amount:       t.Entry.Amount,
		Currency:     t.Entry.Currency,
		Category:     t.Entry.Category,
		Description:  t.Entry.Description,
		Date:         occurrence,
		TemplateID:   t.ID,
		OriginalDate: occurrence,
		State:        TemplateOwned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// =============================================================================
// INSTANCE STATE - One-way ownership transition
// =============================================================================

// InstanceState records who owns a recurring instance. The only transition is
// TemplateOwned -> UserOwned, via Modify. Template-owned instances may be
// overwritten by regeneration and removed by stop/delete-all; user-owned
// instances never are.
type InstanceState uint8

const (
	TemplateOwned InstanceState = iota
	UserOwned
)

// StateFromModified maps the persisted is_modified flag.
func StateFromModified(modified bool) InstanceState {
	if modified {
		return UserOwned
	}
	return TemplateOwned
}

// Modify returns the state after a user edit. It is UserOwned from any state.
func (s InstanceState) Modify() InstanceState { return UserOwned }

func (s InstanceState) IsModified() bool { return s == UserOwned }

func (s InstanceState) String() string {
	if s == UserOwned {
		return "user_owned"
	}
	return "template_owned"
}

// =============================================================================
// ENTRY - One concrete ledger row
// =============================================================================

type Entry struct {
	ID          EntryID
	OwnerID     UserID
	Type        EntryType
	Amount      decimal.Decimal // amount in Currency, before any conversion
	Currency    string
	Category    Category
	Description string
	Date        calendar.Date

	// Set only for recurring instances.
	TemplateID   TemplateID
	OriginalDate calendar.Date
	State        InstanceState

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e Entry) IsRecurringInstance() bool { return e.TemplateID != "" }
func (e Entry) IsModified() bool          { return e.State.IsModified() }

// Blueprint returns the template-sourced fields of the entry.
func (e Entry) Blueprint() EntryTemplate {
	return EntryTemplate{
		Type:        e.Type,
		Amount:      e.Amount,
		Currency:    e.Currency,
		Category:    e.Category,
		Description: e.Description,
	}
}

// Validate checks a free-standing or edited entry.
func (e Entry) Validate() error {
	if e.OwnerID == "" {
		return &EntryError{Field: "ownerId", Reason: "is required"}
	}
	if e.Date.IsZero() {
		return &EntryError{Field: "date", Reason: "is required"}
	}
	return e.Blueprint().Validate()
}
