package pebble_hs

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/hs/record"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReopenKeepsVersions(t *testing.T) {
	fs := vfs.NewMem()
	io, err := Open("hs", fs)
	require.NoError(t, err)

	e := record.Entry{Table: 1, Key: []byte("k"), Upd: update.Update{TxnID: 1, CommitTs: 3, Kind: update.Value, Value: []byte("v"), Seq: 1}}
	require.NoError(t, io.Insert([]record.Entry{e}))
	require.NoError(t, io.Close())

	io, err = Open("hs", fs)
	require.NoError(t, err)
	defer io.Close()

	var got []record.Entry
	require.NoError(t, io.Scan(1, []byte("k"), 2, func(e record.Entry) bool {
		got = append(got, e)
		return true
	}))
	require.Len(t, got, 1)
	assert.Equal(t, e, got[0])
}

func TestScanSurfacesCorruption(t *testing.T) {
	io, err := Open("hs", vfs.NewMem())
	require.NoError(t, err)
	defer io.Close()

	e := record.Entry{Table: 1, Key: []byte("k"), Upd: update.Update{TxnID: 1, Kind: update.Value, Value: []byte("v"), Seq: 1}}
	require.NoError(t, io.corrupt(e.InternalKey(), []byte("garbage-garbage-garbage")))

	err = io.Scan(1, []byte("k"), 10, func(record.Entry) bool { return true })
	assert.True(t, errors.Is(err, errs.ErrCorruption))
}
