package txnlog

import (
	"io"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(id uint64, ts uint64, kv ...string) *CommitRecord {
	r := &CommitRecord{TxnID: id, CommitTs: timestamp.Timestamp(ts)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Updates = append(r.Updates, KeyedUpdate{
			Key: []byte(kv[i]),
			Upd: update.Update{TxnID: id, CommitTs: r.CommitTs, Kind: update.Value, Value: []byte(kv[i+1])},
		})
	}
	return r
}

func replayAll(t *testing.T, l Log) []CommitRecord {
	var out []CommitRecord
	require.NoError(t, l.Replay(func(rec CommitRecord) error {
		out = append(out, rec)
		return nil
	}))
	return out
}

func TestFileLogRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	l, err := Open(fs, "data", true)
	require.NoError(t, err)
	require.NoError(t, l.LogCommit(commit(1, 0, "a", "1", "b", "2")))
	require.NoError(t, l.LogCommit(commit(2, 10, "a", "3")))
	del := &CommitRecord{TxnID: 3, Updates: []KeyedUpdate{{Key: []byte("b"), Upd: update.Update{TxnID: 3, Kind: update.Tombstone}}}}
	require.NoError(t, l.LogCommit(del))
	require.NoError(t, l.Close())

	l, err = Open(fs, "data", true)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 3, l.Records())

	recs := replayAll(t, l)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(1), recs[0].TxnID)
	assert.Len(t, recs[0].Updates, 2)
	assert.Equal(t, "b", string(recs[0].Updates[1].Key))
	assert.Equal(t, "3", string(recs[1].Updates[0].Upd.Value))
	assert.Equal(t, uint64(10), uint64(recs[1].CommitTs))
	assert.Equal(t, update.Tombstone, recs[2].Updates[0].Upd.Kind)

	// replay consumes what was recovered
	assert.Empty(t, replayAll(t, l))
}

// scribbleFS inverts every buffer after writing it, like pebble's invariants
// builds do, so a caller holding on to a written slice reads garbage.
type scribbleFS struct {
	vfs.FS
}

func (fs scribbleFS) Create(name string) (vfs.File, error) {
	f, err := fs.FS.Create(name)
	if err != nil {
		return nil, err
	}
	return scribbleFile{f}, nil
}

type scribbleFile struct {
	vfs.File
}

func (f scribbleFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	for i := range p {
		p[i] = ^p[i]
	}
	return n, err
}

func TestFileLogReplayAfterRewrite(t *testing.T) {
	fs := scribbleFS{vfs.NewMem()}
	l, err := Open(fs, "data", true)
	require.NoError(t, err)
	require.NoError(t, l.LogCommit(commit(1, 0, "a", "1")))
	require.NoError(t, l.LogCommit(commit(2, 5, "b", "2")))
	require.NoError(t, l.Close())

	l, err = Open(fs, "data", true)
	require.NoError(t, err)
	defer l.Close()

	recs := replayAll(t, l)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", string(recs[0].Updates[0].Upd.Value))
	assert.Equal(t, "b", string(recs[1].Updates[0].Key))

	require.NoError(t, l.LogCommit(commit(3, 6, "c", "3")))
	require.NoError(t, l.Close())
	l, err = Open(fs, "data", true)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Records())
	require.NoError(t, l.Close())
}

func TestFileLogTornTail(t *testing.T) {
	fs := vfs.NewMem()
	l, err := Open(fs, "data", false)
	require.NoError(t, err)
	require.NoError(t, l.LogCommit(commit(1, 0, "a", "1")))
	require.NoError(t, l.LogCommit(commit(2, 0, "a", "2")))
	require.NoError(t, l.Close())

	// half of a third frame
	path := fs.PathJoin("data", fileName)
	f, err := fs.Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	w, err := fs.Create(path)
	require.NoError(t, err)
	_, err = w.Write(append(data, 0, 0, 0, 40, 1, 2, 3, 4, 9, 9))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	l, err = Open(fs, "data", false)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Records())
	recs := replayAll(t, l)
	require.Len(t, recs, 2)
	assert.Equal(t, "2", string(recs[1].Updates[0].Upd.Value))

	// new commits land after the valid prefix
	require.NoError(t, l.LogCommit(commit(3, 0, "a", "3")))
	require.NoError(t, l.Close())
	l, err = Open(fs, "data", false)
	require.NoError(t, err)
	defer l.Close()
	recs = replayAll(t, l)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(3), recs[2].TxnID)
}

func TestNop(t *testing.T) {
	var l Log = Nop{}
	require.NoError(t, l.LogCommit(commit(1, 0, "a", "1")))
	assert.Empty(t, replayAll(t, l))
	require.NoError(t, l.Close())
}
