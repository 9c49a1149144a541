package txn

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func begin(t *testing.T, m *Manager, opts ...Option) *Txn {
	t.Helper()
	tx, err := m.Begin(opts...)
	require.NoError(t, err)
	return tx
}

func TestSnapshotMembership(t *testing.T) {
	m := NewManager()

	w1 := begin(t, m)
	w2 := begin(t, m)
	require.NoError(t, m.Commit(w1, timestamp.None, timestamp.None, nil))

	r := begin(t, m)
	snap := r.Snapshot()

	assert.True(t, snap.Sees(w1.ID()), "committed before capture")
	assert.False(t, snap.Sees(w2.ID()), "running at capture")
	assert.True(t, snap.Sees(r.ID()), "own writes")

	w3 := begin(t, m)
	require.NoError(t, m.Commit(w3, timestamp.None, timestamp.None, nil))
	require.NoError(t, m.Commit(w2, timestamp.None, timestamp.None, nil))

	// frozen at capture
	assert.False(t, snap.Sees(w3.ID()))
	assert.False(t, snap.Sees(w2.ID()))
	assert.Equal(t, []uint64{w2.ID()}, snap.Active())
}

func TestCommitValidatesDurable(t *testing.T) {
	m := NewManager()
	tx := begin(t, m)

	err := m.Commit(tx, 10, 5, nil)
	assert.True(t, errors.Is(err, errs.ErrInvalidTimestamp))
	assert.Equal(t, RolledBack, tx.State())
	assert.Equal(t, 0, m.ActiveCount())

	err = m.Commit(tx, 10, 10, nil)
	assert.True(t, errors.Is(err, errs.ErrTxnClosed))
}

func TestCommitDefaultsDurable(t *testing.T) {
	m := NewManager()
	tx := begin(t, m)

	var got Stamp
	require.NoError(t, m.Commit(tx, 7, timestamp.None, func(s Stamp) error {
		got = s
		// still active while applying
		assert.Equal(t, 1, m.ActiveCount())
		return nil
	}))
	assert.Equal(t, Stamp{TxnID: tx.ID(), CommitTs: 7, DurableTs: 7}, got)
	assert.Equal(t, Committed, tx.State())
	assert.Equal(t, 0, m.ActiveCount())
}

func TestCommitApplyFailureRollsBack(t *testing.T) {
	m := NewManager()
	tx := begin(t, m)

	err := m.Commit(tx, 3, 3, func(Stamp) error { return errs.ErrWriteConflict })
	assert.True(t, errors.Is(err, errs.ErrWriteConflict))
	assert.Equal(t, RolledBack, tx.State())
}

func TestPinnedBoundary(t *testing.T) {
	m := NewManager()

	b := m.PinnedBoundary()
	assert.Equal(t, uint64(1), b.OldestTxn)
	assert.Equal(t, timestamp.None, b.PinnedTs)

	w := begin(t, m)
	require.NoError(t, m.Commit(w, 3, 3, nil))

	old := begin(t, m)
	w2 := begin(t, m)
	require.NoError(t, m.Commit(w2, 5, 5, nil))

	b = m.PinnedBoundary()
	assert.Equal(t, old.ID(), b.OldestTxn)
	assert.True(t, b.GloballyVisible(w.ID(), timestamp.None))
	assert.False(t, b.GloballyVisible(w2.ID(), timestamp.None))
	assert.False(t, b.GloballyVisible(w.ID(), 3), "no oldest timestamp yet")

	require.NoError(t, m.SetOldestTimestamp(4))
	reader := begin(t, m, WithReadTs(4))
	b = m.PinnedBoundary()
	assert.Equal(t, timestamp.Timestamp(4), b.PinnedTs)
	assert.True(t, b.GloballyVisible(w.ID(), 3))

	m.Rollback(old)
	m.Rollback(reader)
	b = m.PinnedBoundary()
	assert.Equal(t, uint64(5), b.OldestTxn)
	assert.True(t, b.GloballyVisible(w2.ID(), timestamp.None))
}

func TestOldestTimestamp(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.SetOldestTimestamp(10))
	assert.Error(t, m.SetOldestTimestamp(9))

	_, err := m.Begin(WithReadTs(5))
	assert.True(t, errors.Is(err, errs.ErrInvalidTimestamp))

	tx := begin(t, m)
	assert.True(t, errors.Is(m.Commit(tx, 8, 8, nil), errs.ErrInvalidTimestamp))
}

// A reader admitted concurrently with a move of the oldest timestamp must be
// part of every boundary computed after the move.
func TestOldestTimestampRacesBegin(t *testing.T) {
	for i := 0; i < 500; i++ {
		m := NewManager()

		var (
			wg     sync.WaitGroup
			reader *Txn
			err    error
			b      Boundary
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			reader, err = m.Begin(WithReadTs(5))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.SetOldestTimestamp(20))
			b = m.PinnedBoundary()
		}()
		wg.Wait()

		if err != nil {
			require.True(t, errors.Is(err, errs.ErrInvalidTimestamp))
			continue
		}
		require.LessOrEqual(t, b.PinnedTs, reader.ReadTs(), "iteration %d", i)
	}
}

func TestAdvanceTo(t *testing.T) {
	m := NewManager()
	m.AdvanceTo(41)
	assert.Equal(t, uint64(42), begin(t, m).ID())
}
