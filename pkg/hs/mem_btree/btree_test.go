package mem_btree

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/hs/record"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSurfacesCorruption(t *testing.T) {
	io := NewMBtreeIO()
	e := record.Entry{Table: 1, Key: []byte("k"), Upd: update.Update{TxnID: 1, Kind: update.Value, Value: []byte("v"), Seq: 1}}
	require.NoError(t, io.Insert([]record.Entry{e}))

	io.corrupt(e.InternalKey(), []byte("garbage-garbage-garbage"))

	err := io.Scan(1, []byte("k"), 10, func(record.Entry) bool { return true })
	assert.True(t, errors.Is(err, errs.ErrCorruption))
	assert.Equal(t, "mbtree", io.Name())
}
