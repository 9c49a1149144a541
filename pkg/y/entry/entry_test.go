package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyWithSeq(t *testing.T) {
	k := KeyWithSeq(7, []byte("user"), 42)

	assert.Equal(t, uint32(7), ParseTable(k))
	assert.Equal(t, []byte("user"), ParseKey(k))
	assert.Equal(t, uint64(42), ParseSeq(k))
	assert.Equal(t, KeyPrefix(7, []byte("user")), k[:len(k)-8])
}

func TestKeyWithSeqOrdering(t *testing.T) {
	// versions of one key sort by seq
	assert.Less(t, CompareKeys(KeyWithSeq(1, []byte("1"), 2), KeyWithSeq(1, []byte("1"), 10)), 0)
	assert.Less(t, CompareKeys(KeyWithSeq(1, []byte("1"), 1<<60), KeyWithSeq(1, []byte("1"), 1<<61)), 0)

	// a longer key never falls inside the range of a shorter one
	lo := KeyWithSeq(1, []byte("1"), 0)
	hi := KeyWithSeq(1, []byte("1"), ^uint64(0))
	other := KeyWithSeq(1, []byte("10"), 5)
	inside := CompareKeys(other, lo) >= 0 && CompareKeys(other, hi) <= 0
	assert.False(t, inside)
}

func TestParseKeyMalformed(t *testing.T) {
	assert.Nil(t, ParseKey([]byte{1, 2}))
	k := KeyWithSeq(1, []byte("abc"), 1)
	assert.Nil(t, ParseKey(k[:len(k)-1]))
}
