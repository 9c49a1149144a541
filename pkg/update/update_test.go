package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatchesPrepend(t *testing.T) {
	base := []byte("ffffffffff")
	v := ApplyPatches(base, []Patch{{Offset: 0, Size: 0, Data: []byte("a")}})
	assert.Equal(t, "affffffffff", string(v))
	// base is not modified
	assert.Equal(t, "ffffffffff", string(base))
}

func TestApplyPatchesReplaceAndPad(t *testing.T) {
	v := ApplyPatches([]byte("hello world"), []Patch{{Offset: 6, Size: 5, Data: []byte("there")}})
	assert.Equal(t, "hello there", string(v))

	v = ApplyPatches([]byte("ab"), []Patch{{Offset: 4, Size: 3, Data: []byte("z")}})
	assert.Equal(t, []byte{'a', 'b', 0, 0, 'z'}, v)

	v = ApplyPatches([]byte("abcdef"), []Patch{{Offset: 2, Size: 10, Data: nil}})
	assert.Equal(t, "ab", string(v))
}

func TestReconstructOrder(t *testing.T) {
	// newest first, as collected during a chain walk
	deltas := []*Update{
		{Kind: Delta, Patches: []Patch{{Data: []byte("b")}}},
		{Kind: Delta, Patches: []Patch{{Data: []byte("a")}}},
	}
	assert.Equal(t, "baf", string(Reconstruct([]byte("f"), deltas)))
}

func TestCodec(t *testing.T) {
	in := Update{
		TxnID: 9, CommitTs: 5, DurableTs: 6, Kind: Delta, Seq: 3,
		Patches: []Patch{{Offset: 1, Size: 2, Data: []byte("xy")}, {Offset: 0, Size: 0, Data: []byte("a")}},
	}
	b := Append([]byte("prefix"), &in)

	out, n, err := Decode(b[len("prefix"):])
	require.NoError(t, err)
	assert.Equal(t, len(b)-len("prefix"), n)
	assert.Equal(t, in, out)

	_, _, err = Decode(b[len("prefix") : len(b)-2])
	assert.Error(t, err)

	tomb := Update{TxnID: 1, Kind: Tombstone}
	out, _, err = Decode(Append(nil, &tomb))
	require.NoError(t, err)
	assert.Equal(t, tomb, out)
}
