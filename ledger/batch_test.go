package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recorder is a Committer that records batches and can fail on demand.
type recorder struct {
	limit   int
	batches [][]ledger.Op
	failAt  int // 0-based batch index to fail, -1 for never
}

func newRecorder(limit int) *recorder {
	return &recorder{limit: limit, failAt: -1}
}

func (r *recorder) BatchLimit() int { return r.limit }

func (r *recorder) Commit(_ context.Context, ops []ledger.Op) error {
	if len(r.batches) == r.failAt {
		return errors.New("boom")
	}
	r.batches = append(r.batches, ops)
	return nil
}

func deletes(n int) []ledger.Op {
	ops := make([]ledger.Op, n)
	for i := range ops {
		ops[i] = ledger.DeleteEntry(ledger.EntryID(string(rune('a' + i%26))))
	}
	return ops
}

// =============================================================================
// CHUNKING
// =============================================================================

func TestBatchWriter_ChunksAtLimit(t *testing.T) {
	// GIVEN: A store that accepts 3 ops per batch
	rec := newRecorder(3)

	// WHEN: Writing 8 ops
	var seen []ledger.BatchInfo
	w, err := ledger.WriteAll(context.Background(), rec, deletes(8), func(b ledger.BatchInfo) {
		seen = append(seen, b)
	})

	// THEN: 3 + 3 + 2, each reported
	require.NoError(t, err)
	require.Len(t, rec.batches, 3)
	assert.Len(t, rec.batches[0], 3)
	assert.Len(t, rec.batches[1], 3)
	assert.Len(t, rec.batches[2], 2)
	assert.Equal(t, 8, w.Committed())
	assert.Equal(t, 3, w.Batches())
	assert.Equal(t, []ledger.BatchInfo{
		{Index: 0, Ops: 3, Committed: 3},
		{Index: 1, Ops: 3, Committed: 6},
		{Index: 2, Ops: 2, Committed: 8},
	}, seen)
}

func TestBatchWriter_ExactMultipleHasNoEmptyBatch(t *testing.T) {
	rec := newRecorder(4)

	w, err := ledger.WriteAll(context.Background(), rec, deletes(8), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, w.Batches())
	require.NoError(t, w.Flush(context.Background()))
	assert.Len(t, rec.batches, 2)
}

func TestBatchWriter_EmptyWriteCommitsNothing(t *testing.T) {
	rec := newRecorder(4)

	w, err := ledger.WriteAll(context.Background(), rec, nil, nil)

	require.NoError(t, err)
	assert.Zero(t, w.Batches())
	assert.Empty(t, rec.batches)
}

func TestBatchWriter_BatchesDoNotShareBackingArrays(t *testing.T) {
	rec := newRecorder(2)

	_, err := ledger.WriteAll(context.Background(), rec, deletes(4), nil)

	require.NoError(t, err)
	require.Len(t, rec.batches, 2)
	assert.Equal(t, ledger.EntryID("a"), rec.batches[0][0].EntryID)
	assert.Equal(t, ledger.EntryID("c"), rec.batches[1][0].EntryID)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestBatchWriter_FirstBatchFailureIsPlain(t *testing.T) {
	rec := newRecorder(3)
	rec.failAt = 0

	_, err := ledger.WriteAll(context.Background(), rec, deletes(5), nil)

	require.Error(t, err)
	var partial *ledger.PartialWriteError
	assert.False(t, errors.As(err, &partial), "nothing was committed")
}

func TestBatchWriter_LaterFailureIsPartial(t *testing.T) {
	// GIVEN: A store that fails the second batch
	rec := newRecorder(3)
	rec.failAt = 1

	// WHEN: Writing 8 ops
	w, err := ledger.WriteAll(context.Background(), rec, deletes(8), nil)

	// THEN: The first batch stays committed and the error says so
	var partial *ledger.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 3, partial.Committed)
	assert.Equal(t, 1, partial.Batches)
	assert.EqualError(t, errors.Unwrap(err), "boom")
	assert.Len(t, rec.batches, 1)

	// AND: The writer stays failed
	assert.Equal(t, err, w.Add(context.Background(), deletes(1)...))
	assert.Equal(t, err, w.Flush(context.Background()))
	assert.Len(t, rec.batches, 1)
}

func TestBatchWriter_StopsOnCancelledContext(t *testing.T) {
	rec := newRecorder(2)
	ctx, cancel := context.WithCancel(context.Background())

	w := ledger.NewBatchWriter(rec)
	w.OnCommit = func(ledger.BatchInfo) { cancel() }
	err := w.Add(ctx, deletes(6)...)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.batches, 1)
}

func TestBatchWriter_ReportsCancellationCause(t *testing.T) {
	rec := newRecorder(2)
	ctx, cancel := context.WithCancelCause(context.Background())

	w := ledger.NewBatchWriter(rec)
	w.OnCommit = func(ledger.BatchInfo) { cancel(ledger.ErrConcurrentModification) }
	err := w.Add(ctx, deletes(6)...)

	var partial *ledger.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Committed)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.Len(t, rec.batches, 1)
}

func TestBatchWriter_NonPositiveLimitFallsBack(t *testing.T) {
	rec := newRecorder(0)

	w, err := ledger.WriteAll(context.Background(), rec, deletes(3), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, w.Batches())
}
