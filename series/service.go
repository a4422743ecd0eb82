/*
Package series runs the recurring-entry engine against a ledger.Store.

PURPOSE:
  One Service exposes every user-triggered action on a recurring series and
  on individual entries. Nothing here runs on a clock: expansion happens
  synchronously inside create, edit, stop and delete.

OPERATIONS:
  materialize.go: Create        rule -> dates -> template + instances
  regenerate.go:  Regenerate    reconcile a changed rule with user edits
                  EditTemplate  Regenerate from today
  terminate.go:   Stop          drop the template and its future instances
                  DeleteAll     drop the template and every unedited instance
  aggregate.go:   NextOccurrence, RemainingCount, Summaries, Upcoming
  entries.go:     CreateEntry, EditEntry, DeleteEntry, ListEntries, Instances

OWNERSHIP RULE:
  A recurring instance edited by its user (ledger.UserOwned) is never
  overwritten by regeneration and never removed by stop or delete-all.

WRITES:
  Every multi-row write goes through ledger.BatchWriter: atomic per batch,
  batches committed in order, the template op always in the first batch.

LOCKING:
  Mutating series operations hold the template's lock and fail fast with
  ledger.ErrConcurrentModification when another operation holds it.

SEE ALSO:
  - recurrence/expand.go: The evaluator
  - ledger/batch.go: Bounded batch writer
  - locking: Lock implementations
*/
package series

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/fx"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/locking"
)

// Service is safe for concurrent use.
type Service struct {
	store     ledger.Store
	locker    locking.Locker
	converter *fx.Converter
	log       logrus.FieldLogger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithLocker replaces the default in-process locker.
func WithLocker(l locking.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithConverter sets the currency converter used by Upcoming.
func WithConverter(c *fx.Converter) Option {
	return func(s *Service) { s.converter = c }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock fixes "now"; "today" is its UTC calendar day.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString for template and entry ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func New(store ledger.Store, opts ...Option) *Service {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	s := &Service{
		store:  store,
		locker: locking.NewMemory(),
		log:    quiet,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.converter == nil {
		none, _ := fx.NewStaticSource(nil)
		s.converter = fx.NewConverter(none)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() ledger.Store { return s.store }

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) today() calendar.Date { return calendar.DateOf(s.clock()) }

// =============================================================================
// HELPERS
// =============================================================================

// withTemplateLock runs fn while holding id's lock.
func (s *Service) withTemplateLock(ctx context.Context, id ledger.TemplateID, fn func(held locking.Lock) error) error {
	lock, err := s.locker.Obtain(ctx, "template:"+string(id))
	if errors.Is(err, locking.ErrNotObtained) {
		return fmt.Errorf("template %s: %w", id, ledger.ErrConcurrentModification)
	}
	if err != nil {
		return fmt.Errorf("lock template %s: %w", id, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).WithField("template_id", id).Warn("failed to release template lock")
		}
	}()
	return fn(lock)
}

// write commits ops in batches, logging every committed batch. After each
// batch the held lock is refreshed; if it was lost, no further batch is
// written and the error wraps ledger.ErrConcurrentModification.
func (s *Service) write(ctx context.Context, op string, id ledger.TemplateID, held locking.Lock, ops []ledger.Op) (*ledger.BatchWriter, error) {
	log := s.log.WithFields(logrus.Fields{"op": op, "template_id": id})

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	w, err := ledger.WriteAll(ctx, s.store, ops, func(b ledger.BatchInfo) {
		log.WithFields(logrus.Fields{"batch": b.Index, "ops": b.Ops, "committed": b.Committed}).Debug("batch committed")
		if held == nil || b.Committed == len(ops) {
			return
		}
		if err := held.Refresh(ctx); err != nil {
			log.WithError(err).WithField("batch", b.Index).Error("template lock lost")
			cancel(fmt.Errorf("template %s: lock lost: %w", id, ledger.ErrConcurrentModification))
		}
	})
	if err != nil {
		log.WithError(err).WithField("committed", w.Committed()).Error("series write failed")
		return w, err
	}
	log.WithFields(logrus.Fields{"ops": w.Committed(), "batches": w.Batches()}).Info("series write complete")
	return w, nil
}
