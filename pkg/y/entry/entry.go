package entry

import (
	"bytes"
	"encoding/binary"
)

type Pair[K any, V any] struct {
	Key K
	Val V
}

const (
	tableLen = 4
	keyLen   = 4
	seqLen   = 8
)

// KeyWithSeq builds the history store key: table | len(key) | key | seq.
// Big endian integers keep every version of one key contiguous and ordered by seq.
func KeyWithSeq(table uint32, key []byte, seq uint64) []byte {
	out := make([]byte, tableLen+keyLen+len(key)+seqLen)
	binary.BigEndian.PutUint32(out, table)
	binary.BigEndian.PutUint32(out[tableLen:], uint32(len(key)))
	copy(out[tableLen+keyLen:], key)
	binary.BigEndian.PutUint64(out[len(out)-seqLen:], seq)
	return out
}

// KeyPrefix is the part of KeyWithSeq shared by every version of a key.
func KeyPrefix(table uint32, key []byte) []byte {
	out := KeyWithSeq(table, key, 0)
	return out[:len(out)-seqLen]
}

func ParseSeq(internalKey []byte) uint64 {
	if len(internalKey) < tableLen+keyLen+seqLen {
		return 0
	}
	return binary.BigEndian.Uint64(internalKey[len(internalKey)-seqLen:])
}

func ParseTable(internalKey []byte) uint32 {
	if len(internalKey) < tableLen {
		return 0
	}
	return binary.BigEndian.Uint32(internalKey)
}

// ParseKey returns the user key, or nil when the layout is inconsistent.
func ParseKey(internalKey []byte) []byte {
	if len(internalKey) < tableLen+keyLen+seqLen {
		return nil
	}
	n := int(binary.BigEndian.Uint32(internalKey[tableLen:]))
	if tableLen+keyLen+n+seqLen != len(internalKey) {
		return nil
	}
	return internalKey[tableLen+keyLen : tableLen+keyLen+n]
}

func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
