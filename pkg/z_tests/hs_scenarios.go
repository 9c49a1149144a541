package tests

import (
	"strings"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/kv"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/stretchr/testify/assert"
)

// TestBaseScenario A long running reader keeps seeing the first version while
// timestamped and non-timestamped updates pile up on top and get evicted.
func TestBaseScenario(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())

	value0 := strings.Repeat("f", 500)
	value1 := strings.Repeat("a", 500)
	value2 := strings.Repeat("b", 500)
	value3 := strings.Repeat("c", 500)
	value4 := strings.Repeat("d", 500)
	value5 := strings.Repeat("e", 500)

	key := createKey(1)
	commitAt(t, s, key, value0, 3)

	reader := begin(t, s)
	checkValue(t, reader, key, value0)

	commitAt(t, s, key, value1, 5)
	commitAt(t, s, key, value2, 10)

	fill(t, s, 2000, 2400, value3)

	commitAt(t, s, key, value4, 0)
	commitAt(t, s, key, value5, 15)
	checkValue(t, reader, key, value0)

	fill(t, s, 10001, 10200, value3)
	checkValue(t, reader, key, value0)
	assert.Greater(t, s.HistoryLen(), 0)

	latest := begin(t, s)
	checkValue(t, latest, key, value5)
}

// TestReadTimestampWeirdness Two readers at the same read timestamp, one of
// which started after a newer timestamped commit. Once a non-timestamped
// update lands on top and the older versions are evicted, the later reader
// sees that newer commit.
func TestReadTimestampWeirdness(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())

	value1 := strings.Repeat("a", 500)
	value2 := strings.Repeat("b", 500)
	value3 := strings.Repeat("c", 500)
	value4 := strings.Repeat("d", 500)
	value5 := strings.Repeat("e", 500)

	key := createKey(1)
	commitAt(t, s, key, value1, 3)

	session2 := begin(t, s, txn.WithReadTs(5))
	checkValue(t, session2, key, value1)

	commitAt(t, s, key, value2, 10)

	session3 := begin(t, s, txn.WithReadTs(5))
	checkValue(t, session3, key, value1)

	fill(t, s, 1000, 1400, value3)

	commitAt(t, s, key, value4, 0)
	commitAt(t, s, key, value5, 15)

	checkValue(t, session2, key, value1)
	checkValue(t, session3, key, value1)

	fill(t, s, 10001, 10400, value3)

	checkValue(t, session2, key, value1)
	// reading through a timestamp, the newer value is now visible
	checkValue(t, session3, key, value2)
}

// TestIgnoreTombstone The first non-timestamped update must survive eviction
// for the reader that started right after it.
func TestIgnoreTombstone(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())

	value0 := strings.Repeat("A", 500)
	value1 := strings.Repeat("a", 500)
	value2 := strings.Repeat("b", 500)
	value3 := strings.Repeat("c", 500)
	value4 := strings.Repeat("d", 500)

	key := createKey(1)
	commitAt(t, s, key, value0, 0)

	session2 := begin(t, s)
	checkValue(t, session2, key, value0)

	commitAt(t, s, key, value1, 5)
	commitAt(t, s, key, value2, 10)

	fill(t, s, 2, 400, value3)
	checkValue(t, session2, key, value0)

	commitAt(t, s, key, value4, 0)

	fill(t, s, 10000, 10200, value3)
	checkValue(t, session2, key, value0)

	// a delete on top changes nothing for the old reader
	tx := begin(t, s)
	assert.NoError(t, tx.Delete(key))
	assert.NoError(t, tx.Commit(ctx(), kv.CommitOptions{}))
	fill(t, s, 10200, 10300, value3)
	checkValue(t, session2, key, value0)

	_, found, err := begin(t, s).Read(ctx(), key)
	assert.NoError(t, err)
	assert.False(t, found)
}

// TestMultipleOlderReaders Every reader sees the version that was newest when it started.
func TestMultipleOlderReaders(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())

	var (
		readers []*kv.Txn
		values  []string
	)
	for i := 0; i < 5; i++ {
		values = append(values, strings.Repeat(string(rune('0'+i)), 10))
	}
	junk := strings.Repeat("aaaaa", 100)
	startTxn := func(i int) {
		readers = append(readers, begin(t, s))
		checkValue(t, readers[i], createKey(1), values[i])
	}

	key := createKey(1)
	commitAt(t, s, key, values[0], 3)
	startTxn(0)
	commitAt(t, s, key, values[1], 5)
	startTxn(1)
	commitAt(t, s, key, values[2], 10)
	startTxn(2)

	fill(t, s, 1000, 1400, junk)

	commitAt(t, s, key, values[3], 0)
	startTxn(3)
	commitAt(t, s, key, values[4], 15)

	fill(t, s, 10001, 10400, junk)

	for i := 0; i < 4; i++ {
		checkValue(t, readers[i], key, values[i])
	}
}

// TestMultipleOlderReadersWithMixedMode Timestamps restart after each
// non-timestamped update; snapshot readers are unaffected.
func TestMultipleOlderReadersWithMixedMode(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())

	var (
		readers []*kv.Txn
		values  []string
	)
	for i := 0; i < 9; i++ {
		values = append(values, strings.Repeat(string(rune('0'+i)), 10))
	}
	junk := strings.Repeat("aaaaa", 100)
	startTxn := func(i int) {
		readers = append(readers, begin(t, s))
		checkValue(t, readers[i], createKey(1), values[i])
	}

	key := createKey(1)
	commitAt(t, s, key, values[0], 3)
	startTxn(0)
	commitAt(t, s, key, values[1], 5)
	startTxn(1)
	commitAt(t, s, key, values[2], 10)
	startTxn(2)

	fill(t, s, 1000, 1400, junk)

	commitAt(t, s, key, values[3], 0)
	startTxn(3)
	commitAt(t, s, key, values[4], 5)
	startTxn(4)
	commitAt(t, s, key, values[5], 10)
	startTxn(5)
	commitAt(t, s, key, values[6], 15)
	startTxn(6)

	fill(t, s, 10001, 10400, junk)

	for i := 0; i < 7; i++ {
		checkValue(t, readers[i], key, values[i])
	}

	commitAt(t, s, key, values[7], 0)
	startTxn(7)
	commitAt(t, s, key, values[8], 5)

	fill(t, s, 10001, 10400, values[3])

	for i := 0; i < 8; i++ {
		checkValue(t, readers[i], key, values[i])
	}
}

// TestModifies Older readers reconstruct deltas across memory and the history
// store. The read timestamp reader ends up one modify ahead once a
// non-timestamped value sits on top.
func TestModifies(newStore StoreFactory, t *testing.T) {
	s := newStore(t, Config(), vfs.NewMem())

	var readers []*kv.Txn
	junk := strings.Repeat("aaaaa", 100)

	values := []string{strings.Repeat("f", 10)}
	values = append(values, "a"+values[0])
	values = append(values, "b"+values[1])
	values = append(values, strings.Repeat("g", 10))
	values = append(values, "e"+values[3])

	key := createKey(1)
	startTxn := func(i int) {
		readers = append(readers, begin(t, s))
		checkValue(t, readers[i], key, values[i])
	}
	prepend := func(data string) update.Patch {
		return update.Patch{Offset: 0, Size: 0, Data: []byte(data)}
	}

	commitAt(t, s, key, values[0], 3)
	startTxn(0)

	modifyAt(t, s, key, 5, prepend("a"))

	tsReader := begin(t, s, txn.WithReadTs(3))
	checkValue(t, tsReader, key, values[0])

	startTxn(1)

	modifyAt(t, s, key, 10, prepend("b"))
	startTxn(2)

	fill(t, s, 2000, 2400, junk)

	commitAt(t, s, key, values[3], 0)
	startTxn(3)

	modifyAt(t, s, key, 15, prepend("e"))
	startTxn(4)

	for i := 0; i < 5; i++ {
		checkValue(t, readers[i], key, values[i])
	}

	fill(t, s, 10001, 10200, junk)

	for i := 0; i < 5; i++ {
		checkValue(t, readers[i], key, values[i])
	}
	checkValue(t, tsReader, key, values[1])
}
