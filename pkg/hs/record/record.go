// Package record is the on-disk layout of a history store entry.
package record

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/entry"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
)

// Entry is a version moved out of a chain, with the stop point of the version
// that superseded it.
type Entry struct {
	Table   uint32
	Key     []byte
	Upd     update.Update
	StopTxn uint64
	StopTs  timestamp.Timestamp
}

func (e *Entry) InternalKey() []byte {
	return entry.KeyWithSeq(e.Table, e.Key, e.Upd.Seq)
}

var table = crc32.MakeTable(crc32.Castagnoli)

// EncodeValue lays out update | stop txn | stop ts | crc.
func EncodeValue(e *Entry) []byte {
	b := update.Append(make([]byte, 0, e.Upd.Size()+20), &e.Upd)
	b = binary.BigEndian.AppendUint64(b, e.StopTxn)
	b = binary.BigEndian.AppendUint64(b, uint64(e.StopTs))
	return binary.BigEndian.AppendUint32(b, crc32.Checksum(b, table))
}

// Decode validates and parses a stored key/value pair.
func Decode(k, v []byte) (Entry, error) {
	var e Entry
	userKey := entry.ParseKey(k)
	if userKey == nil {
		return e, errs.Corruption(nil, "malformed history store key %x", k)
	}
	if len(v) < 20 {
		return e, errs.Corruption(nil, "history store value for %q too short (%d bytes)", userKey, len(v))
	}
	body, sum := v[:len(v)-4], binary.BigEndian.Uint32(v[len(v)-4:])
	if crc32.Checksum(body, table) != sum {
		return e, errs.Corruption(nil, "checksum mismatch for %q seq %d", userKey, entry.ParseSeq(k))
	}
	u, n, err := update.Decode(body)
	if err != nil {
		return e, errs.Corruption(err, "decode %q seq %d", userKey, entry.ParseSeq(k))
	}
	if len(body)-n != 16 {
		return e, errs.Corruption(nil, "trailing bytes for %q seq %d", userKey, entry.ParseSeq(k))
	}
	if u.Seq != entry.ParseSeq(k) {
		return e, errs.Corruption(nil, "seq mismatch for %q: key %d value %d", userKey, entry.ParseSeq(k), u.Seq)
	}
	e.Table = entry.ParseTable(k)
	e.Key = bytes.Clone(userKey)
	e.Upd = u
	e.StopTxn = binary.BigEndian.Uint64(body[n:])
	e.StopTs = timestamp.Timestamp(binary.BigEndian.Uint64(body[n+8:]))
	return e, nil
}
