/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the api package maps them to
  HTTP statuses through the helper predicates at the bottom.

ERROR CATEGORIES:
 1. Validation errors - Bad blueprint or rule, rejected before any write
 2. Lookup errors - Template or entry does not exist
 3. Write errors - Concurrent modification, partially committed chunks

SEE ALSO:
  - recurrence/errors.go: Rule validation errors
  - batch.go: Produces PartialWriteError
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/warp/expense-ledger/recurrence"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidEntry is returned when an entry or blueprint fails validation.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrTemplateNotFound is returned when a referenced template doesn't exist.
	ErrTemplateNotFound = errors.New("recurring template not found")

	// ErrEntryNotFound is returned when a referenced entry doesn't exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrConcurrentModification is returned when another operation holds the
	// template. The caller may retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTemplateExists is returned when a caller-chosen template id is
	// already used by a different series.
	ErrTemplateExists = errors.New("template id already in use")

	// ErrForbidden is returned when the acting user does not own the record.
	ErrForbidden = errors.New("record belongs to another user")

	// ErrBatchTooLarge is returned by a store asked to commit more ops than
	// its batch limit.
	ErrBatchTooLarge = errors.New("batch exceeds store limit")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EntryError names the offending field.
type EntryError struct {
	Field  string
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("invalid entry: %s %s", e.Field, e.Reason)
}

func (e *EntryError) Unwrap() error {
	return ErrInvalidEntry
}

// PartialWriteError reports a write that failed after some chunks were
// already committed. Committed ops stay; the operation is idempotent by key,
// so re-running it completes the series.
type PartialWriteError struct {
	Committed int // ops committed before the failure
	Batches   int // batches committed before the failure
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("write failed after %d committed ops in %d batches: %v", e.Committed, e.Batches, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, recurrence.ErrInvalidRule)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}
