package ledger

import (
	"context"
)

// =============================================================================
// BATCH WRITER - Bounded, sequential chunking of ops
// =============================================================================

// BatchInfo describes one committed batch.
type BatchInfo struct {
	Index     int // 0-based batch number
	Ops       int // ops in this batch
	Committed int // ops committed so far, this batch included
}

// BatchWriter accumulates ops and commits them in atomic batches of at most
// the store's BatchLimit. Batches are committed one after another; each is
// atomic, the whole sequence is not.
//
// Once a commit fails the writer keeps returning that error. If earlier
// batches had already committed the error is a *PartialWriteError.
type BatchWriter struct {
	store   Committer
	limit   int
	pending []Op

	committed int
	batches   int
	err       error

	// OnCommit, when set, is called after every committed batch.
	OnCommit func(BatchInfo)
}

func NewBatchWriter(store Committer) *BatchWriter {
	limit := store.BatchLimit()
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &BatchWriter{store: store, limit: limit, pending: make([]Op, 0, limit)}
}

// Add queues ops, committing a batch each time the limit is reached.
func (w *BatchWriter) Add(ctx context.Context, ops ...Op) error {
	for _, op := range ops {
		if w.err != nil {
			return w.err
		}
		w.pending = append(w.pending, op)
		if len(w.pending) == w.limit {
			if err := w.commit(ctx); err != nil {
				return err
			}
		}
	}
	return w.err
}

// Flush commits whatever is pending.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if w.err != nil {
		return w.err
	}
	if len(w.pending) == 0 {
		return nil
	}
	return w.commit(ctx)
}

// Committed returns the number of ops committed so far.
func (w *BatchWriter) Committed() int { return w.committed }

// Batches returns the number of batches committed so far.
func (w *BatchWriter) Batches() int { return w.batches }

// commit refuses to start once ctx is done and reports the cancellation
// cause, so a caller that cancels with a reason sees that reason.
func (w *BatchWriter) commit(ctx context.Context) error {
	var err error
	if ctx.Err() != nil {
		err = context.Cause(ctx)
	} else {
		err = w.store.Commit(ctx, w.pending)
	}
	if err != nil {
		if w.batches > 0 {
			err = &PartialWriteError{Committed: w.committed, Batches: w.batches, Err: err}
		}
		w.err = err
		return err
	}

	n := len(w.pending)
	w.committed += n
	w.batches++
	w.pending = make([]Op, 0, w.limit)

	if w.OnCommit != nil {
		w.OnCommit(BatchInfo{Index: w.batches - 1, Ops: n, Committed: w.committed})
	}
	return nil
}

// WriteAll commits ops through a fresh BatchWriter and returns it for
// inspection.
func WriteAll(ctx context.Context, store Committer, ops []Op, onCommit func(BatchInfo)) (*BatchWriter, error) {
	w := NewBatchWriter(store)
	w.OnCommit = onCommit
	if err := w.Add(ctx, ops...); err != nil {
		return w, err
	}
	return w, w.Flush(ctx)
}
