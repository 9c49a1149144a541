package hs

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]IO {
	mem, err := NewHistoryStore(MBtree, Options{})
	require.NoError(t, err)
	peb, err := NewHistoryStore(Pebble, Options{Dir: "db", FS: vfs.NewMem()})
	require.NoError(t, err)
	return map[string]IO{"mbtree": mem, "pebble": peb}
}

func version(key string, seq uint64, ts timestamp.Timestamp, v string) Entry {
	return Entry{
		Table: 1,
		Key:   []byte(key),
		Upd:   update.Update{TxnID: seq, CommitTs: ts, DurableTs: ts, Kind: update.Value, Value: []byte(v), Seq: seq},
	}
}

func seqs(t *testing.T, io IO, key string, before uint64) []uint64 {
	var out []uint64
	require.NoError(t, io.Scan(1, []byte(key), before, func(e Entry) bool {
		out = append(out, e.Upd.Seq)
		return true
	}))
	return out
}

func TestHistoryStore(t *testing.T) {
	for name, io := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer io.Close()

			require.NoError(t, io.Insert([]Entry{
				version("1", 1, 3, "a"),
				version("1", 2, 5, "b"),
				version("1", 3, 10, "c"),
				version("10", 1, 3, "x"),
				version("2", 7, 3, "y"),
			}))
			assert.Equal(t, 5, io.Len())

			// newest first, bounded below before
			assert.Equal(t, []uint64{3, 2, 1}, seqs(t, io, "1", 100))
			assert.Equal(t, []uint64{2, 1}, seqs(t, io, "1", 3))
			assert.Empty(t, seqs(t, io, "1", 1))
			assert.Empty(t, seqs(t, io, "1", 0))
			assert.Equal(t, []uint64{1}, seqs(t, io, "10", 100))
			assert.Empty(t, seqs(t, io, "3", 100))

			var asc []string
			require.NoError(t, io.Ascend(1, []byte("1"), func(e Entry) bool {
				asc = append(asc, string(e.Upd.Value))
				return true
			}))
			assert.Equal(t, []string{"a", "b", "c"}, asc)

			// early stop
			var first []uint64
			require.NoError(t, io.Scan(1, []byte("1"), 100, func(e Entry) bool {
				first = append(first, e.Upd.Seq)
				return false
			}))
			assert.Equal(t, []uint64{3}, first)

			// rewrite in place
			squashed := version("1", 2, timestamp.None, "b")
			require.NoError(t, io.Insert([]Entry{squashed}))
			require.NoError(t, io.Scan(1, []byte("1"), 3, func(e Entry) bool {
				assert.Equal(t, timestamp.None, e.Upd.CommitTs)
				return false
			}))
			assert.Equal(t, 5, io.Len())

			n, err := io.RemoveBefore(1, []byte("1"), 3)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, []uint64{3}, seqs(t, io, "1", 100))
			assert.Equal(t, []uint64{1}, seqs(t, io, "10", 100))

			require.NoError(t, io.Reset())
			assert.Equal(t, 0, io.Len())
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("pebble")
	require.NoError(t, err)
	assert.Equal(t, Pebble, typ)

	typ, err = ParseType("mbtree")
	require.NoError(t, err)
	assert.Equal(t, MBtree, typ)

	_, err = ParseType("lsm")
	assert.Error(t, err)
}
