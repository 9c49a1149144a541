package chain

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(txn uint64, ts timestamp.Timestamp, v string) update.Update {
	return update.Update{TxnID: txn, CommitTs: ts, DurableTs: ts, Kind: update.Value, Value: []byte(v)}
}

func values(c *Chain) []string {
	var out []string
	c.Walk(func(e Entry) bool {
		out = append(out, string(e.Upd.Value))
		return true
	})
	return out
}

func TestAppendNewestFirst(t *testing.T) {
	c := New([]byte("1"), NewArena())

	for i, v := range []string{"a", "b", "c"} {
		stored, _, err := c.Append(val(uint64(i+1), timestamp.Timestamp(i+1)*5, v))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), stored.Seq)
	}

	assert.Equal(t, []string{"c", "b", "a"}, values(c))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, "c", string(c.Newest().Value))
	assert.Equal(t, "a", string(c.OldestInMemory().Value))
	assert.Equal(t, uint64(3), c.Seq())
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	c := New([]byte("1"), NewArena())
	_, _, err := c.Append(val(5, 10, "a"))
	require.NoError(t, err)

	_, _, err = c.Append(val(4, 20, "b"))
	assert.True(t, errors.Is(err, errs.ErrOutOfOrderCommit))

	_, _, err = c.Append(val(6, 9, "b"))
	assert.True(t, errors.Is(err, errs.ErrOutOfOrderCommit))
	assert.Error(t, c.CheckAppend(&update.Update{TxnID: 6, CommitTs: 9}))

	assert.Equal(t, []string{"a"}, values(c))
}

func TestAppendMixedMode(t *testing.T) {
	c := New([]byte("1"), NewArena())
	_, _, err := c.Append(val(1, 10, "a"))
	require.NoError(t, err)
	_, _, err = c.Append(val(2, timestamp.None, "b"))
	require.NoError(t, err)
	// restarting below 10 is fine once a non-timestamped update is on top
	_, _, err = c.Append(val(3, 5, "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, values(c))
}

func TestFindVisible(t *testing.T) {
	c := New([]byte("1"), NewArena())
	for i := uint64(1); i <= 3; i++ {
		_, _, err := c.Append(val(i, timestamp.Timestamp(i), string(rune('a'+i-1))))
		require.NoError(t, err)
	}
	u, ok := c.FindVisible(func(u *update.Update) bool { return u.CommitTs <= 2 })
	require.True(t, ok)
	assert.Equal(t, "b", string(u.Value))

	_, ok = c.FindVisible(func(*update.Update) bool { return false })
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	arena := NewArena()
	c := New([]byte("1"), arena)
	for i := uint64(1); i <= 4; i++ {
		_, _, err := c.Append(val(i, timestamp.Timestamp(i), "v"))
		require.NoError(t, err)
	}
	entries := c.Entries()
	require.Len(t, entries, 4)

	before := c.ResidentBytes()
	ids, bytes, err := c.Truncate(entries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{entries[2].ID, entries[3].ID}, ids)
	assert.Equal(t, before-bytes, c.ResidentBytes())
	assert.Equal(t, 2, c.Len())

	// detached records stay readable until released
	assert.Equal(t, uint64(1), arena.Get(entries[3].ID).TxnID)

	for _, id := range ids {
		assert.True(t, arena.Release(id))
	}
	assert.Equal(t, int64(2), arena.Live())

	_, _, err = c.Truncate(entries[3].ID)
	assert.Error(t, err)
}

func TestArenaReuse(t *testing.T) {
	arena := NewArena()
	a := arena.Alloc(val(1, 1, "a"))
	arena.Acquire(a)
	assert.False(t, arena.Release(a))
	assert.True(t, arena.Release(a))

	b := arena.Alloc(val(2, 2, "b"))
	assert.Equal(t, a, b)
	assert.Equal(t, "b", string(arena.Get(b).Value))
	assert.Equal(t, uint64(1), arena.Capacity())
}

func TestArenaGrowsAcrossChunks(t *testing.T) {
	arena := NewArena()
	var ids []ID
	for i := 0; i < chunkSize+10; i++ {
		ids = append(ids, arena.Alloc(val(uint64(i+1), 0, "x")))
	}
	assert.Equal(t, uint64(chunkSize+10), arena.Get(ids[len(ids)-1]).TxnID)
	assert.Equal(t, int64(chunkSize+10), arena.Live())
}
