package tests

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/config"
	"github.com/dborchard/tempokv/pkg/kv"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSnapshotStability Multi Writer. Multi Reader. A reader opened before
// the churn keeps resolving the same value while background eviction runs.
func TestSnapshotStability(newStore StoreFactory, t *testing.T) {
	cfg := Config()
	cfg.EvictInterval = 5 * time.Millisecond
	cfg.EvictTarget = 4 << 10
	s := newStore(t, cfg, vfs.NewMem())

	key := createKey(1)
	commitAt(t, s, key, "base", 0)
	reader := begin(t, s)

	const (
		writers = 4
		n       = 100
	)
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < n; {
				tx, err := s.Begin()
				if !assert.NoError(t, err) {
					return
				}
				_ = tx.Put(key, []byte(fmt.Sprintf("w%d-%03d", w, i)))
				err = tx.Commit(ctx(), kv.CommitOptions{})
				if errors.Is(err, errs.ErrWriteConflict) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				i++
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		checkValue(t, reader, key, "base")
	}

	latest := begin(t, s)
	got, found, err := latest.Read(ctx(), key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, strings.HasSuffix(string(got), fmt.Sprintf("-%03d", n-1)), "latest value %s", got)
	latest.Rollback()

	// nothing pins the history once the reader is gone
	reader.Rollback()
	_, err = s.Evict(ctx())
	require.NoError(t, err)
	assert.Equal(t, 0, s.HistoryLen())
}

// TestDeltaReconstruction Each modify is followed by an eviction pass and a
// new reader; every reader rebuilds its own value.
func TestDeltaReconstruction(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())
	key := createKey(7)

	want := []byte("0123456789")
	commitAt(t, s, key, string(want), 0)

	var (
		readers  []*kv.Txn
		expected []string
	)
	for i := 0; i < 25; i++ {
		p := update.Patch{Offset: i % 12, Size: 1, Data: []byte{byte('a' + i%26)}}
		modifyAt(t, s, key, 0, p)
		want = update.ApplyPatches(want, []update.Patch{p})

		_, err := s.Evict(ctx())
		require.NoError(t, err)

		readers = append(readers, begin(t, s))
		expected = append(expected, string(want))
	}
	for i, r := range readers {
		checkValue(t, r, key, expected[i])
	}

	// a modify on a missing key starts from an empty value
	modifyAt(t, s, createKey(8), 0, update.Patch{Offset: 2, Data: []byte("x")})
	checkValue(t, begin(t, s), createKey(8), "\x00\x00x")
}

// TestReadYourWrites Staged writes are visible to their own transaction only.
func TestReadYourWrites(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())
	key := createKey(1)
	commitAt(t, s, key, "abc", 0)

	tx := begin(t, s)
	other := begin(t, s)
	require.NoError(t, tx.Modify(key, update.Patch{Offset: 3, Data: []byte("d")}))
	checkValue(t, tx, key, "abcd")
	require.NoError(t, tx.Put(key, []byte("xyz")))
	require.NoError(t, tx.Modify(key, update.Patch{Offset: 0, Size: 1, Data: []byte("X")}))
	checkValue(t, tx, key, "Xyz")
	checkValue(t, other, key, "abc")

	require.NoError(t, tx.Delete(key))
	_, found, err := tx.Read(ctx(), key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Write(createKey(2), kv.Value([]byte("two")), tx))
	require.NoError(t, tx.Commit(ctx(), kv.CommitOptions{}))
	assert.Equal(t, txn.Committed, tx.State())

	checkValue(t, other, key, "abc")
	_, found, err = begin(t, s).Read(ctx(), key)
	require.NoError(t, err)
	assert.False(t, found)
	checkValue(t, begin(t, s), createKey(2), "two")

	assert.ErrorIs(t, tx.Put(key, []byte("late")), errs.ErrTxnClosed)
}

// TestWriteConflict First committer wins.
func TestWriteConflict(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())
	key := createKey(1)

	t1 := begin(t, s)
	t2 := begin(t, s)
	require.NoError(t, t1.Put(key, []byte("one")))
	require.NoError(t, t2.Put(key, []byte("two")))

	require.NoError(t, t1.Commit(ctx(), kv.CommitOptions{}))
	err := t2.Commit(ctx(), kv.CommitOptions{})
	assert.True(t, errors.Is(err, errs.ErrWriteConflict))
	assert.Equal(t, txn.RolledBack, t2.State())

	t3 := begin(t, s)
	require.NoError(t, t3.Put(key, []byte("three")))
	require.NoError(t, t3.Commit(ctx(), kv.CommitOptions{}))
	checkValue(t, begin(t, s), key, "three")
}

// TestReadTsWriteConflict A writer reading through a timestamp cannot commit
// over a version committed after that timestamp.
func TestReadTsWriteConflict(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())
	key := createKey(1)
	commitAt(t, s, key, "old", 3)
	commitAt(t, s, key, "new", 10)

	tx := begin(t, s, txn.WithReadTs(5))
	require.NoError(t, tx.Modify(key, update.Patch{Offset: 0, Size: 0, Data: []byte("x")}))
	checkValue(t, tx, key, "xold")
	err := tx.Commit(ctx(), kv.CommitOptions{CommitTs: 12})
	assert.True(t, errors.Is(err, errs.ErrWriteConflict))
	assert.Equal(t, txn.RolledBack, tx.State())
	checkValue(t, begin(t, s), key, "new")

	tx = begin(t, s, txn.WithReadTs(10))
	require.NoError(t, tx.Modify(key, update.Patch{Offset: 0, Size: 0, Data: []byte("x")}))
	checkValue(t, tx, key, "xnew")
	require.NoError(t, tx.Commit(ctx(), kv.CommitOptions{CommitTs: 12}))
	checkValue(t, begin(t, s), key, "xnew")
}

// TestOutOfOrderCommit A commit timestamp older than the newest version of a
// key aborts the transaction and leaves the store usable.
func TestOutOfOrderCommit(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())
	key := createKey(1)
	commitAt(t, s, key, "ten", 10)

	tx := begin(t, s)
	require.NoError(t, tx.Put(key, []byte("five")))
	require.NoError(t, tx.Put(createKey(2), []byte("other")))
	err := tx.Commit(ctx(), kv.CommitOptions{CommitTs: 5})
	assert.True(t, errors.Is(err, errs.ErrOutOfOrderCommit))
	assert.False(t, errs.IsRetryable(err))
	assert.Equal(t, txn.RolledBack, tx.State())

	r := begin(t, s)
	checkValue(t, r, key, "ten")
	_, found, err := r.Read(ctx(), createKey(2))
	require.NoError(t, err)
	assert.False(t, found, "no key of an aborted commit may be applied")

	tx = begin(t, s)
	require.NoError(t, tx.Put(key, []byte("x")))
	err = tx.Commit(ctx(), kv.CommitOptions{CommitTs: 30, DurableTs: 20})
	assert.True(t, errors.Is(err, errs.ErrInvalidTimestamp))

	commitAt(t, s, key, "twenty", 20)
	checkValue(t, begin(t, s), key, "twenty")

	require.NoError(t, s.SetOldestTimestamp(15))
	_, err = s.Begin(txn.WithReadTs(10))
	assert.True(t, errors.Is(err, errs.ErrInvalidTimestamp))
}

// TestCacheFull Commits are refused while the resident versions cannot be
// evicted, and accepted again once eviction frees room.
func TestCacheFull(newStore StoreFactory, t *testing.T) {
	cfg := Config()
	cfg.CacheSize = 16 << 10
	s := newStore(t, cfg, vfs.NewMem())

	val := strings.Repeat("v", 1000)
	for i := 0; i < 15; i++ {
		commitAt(t, s, createKey(i), val, 0)
	}

	tx := begin(t, s)
	require.NoError(t, tx.Put(createKey(15), []byte(val)))
	err := tx.Commit(ctx(), kv.CommitOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCacheFull))
	assert.True(t, errs.IsRetryable(err))
	assert.Equal(t, txn.RolledBack, tx.State())

	// shrink one key, the old version becomes evictable
	commitAt(t, s, createKey(0), "x", 0)
	_, err = s.Evict(ctx())
	require.NoError(t, err)

	commitAt(t, s, createKey(15), val, 0)
	checkValue(t, begin(t, s), createKey(15), val)
	checkValue(t, begin(t, s), createKey(0), "x")
}

// TestRecovery A store reopened on the same files sees every committed version.
func TestRecovery(newStore StoreFactory, t *testing.T) {
	fs := vfs.NewMem()
	cfg := Config()
	cfg.TxnLog = config.TxnLogFile

	s := newStore(t, cfg, fs)
	commitAt(t, s, createKey(1), "one", 10)
	modifyAt(t, s, createKey(1), 20, update.Patch{Offset: 3, Data: []byte("!")})
	commitAt(t, s, createKey(2), "two", 0)

	tx := begin(t, s)
	require.NoError(t, tx.Delete(createKey(2)))
	require.NoError(t, tx.Put(createKey(3), []byte("three")))
	require.NoError(t, tx.Commit(ctx(), kv.CommitOptions{CommitTs: 30}))
	lastID := tx.ID()

	aborted := begin(t, s)
	require.NoError(t, aborted.Put(createKey(4), []byte("four")))
	aborted.Rollback()

	_, err := s.Evict(ctx())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = newStore(t, cfg, fs)
	r := begin(t, s)
	assert.Greater(t, r.ID(), lastID)
	checkValue(t, r, createKey(1), "one!")
	checkValue(t, r, createKey(3), "three")
	for _, k := range []int{2, 4} {
		_, found, err := r.Read(ctx(), createKey(k))
		require.NoError(t, err)
		assert.False(t, found, "key %d", k)
	}

	// timestamps survive the replay
	old := begin(t, s, txn.WithReadTs(15))
	checkValue(t, old, createKey(1), "one")
}
