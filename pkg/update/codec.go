package update

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
)

const codecVersion = 1

var errShort = errors.New("short update record")

// Append encodes u onto dst.
func Append(dst []byte, u *Update) []byte {
	dst = append(dst, codecVersion, byte(u.Kind))
	dst = binary.BigEndian.AppendUint64(dst, u.TxnID)
	dst = binary.BigEndian.AppendUint64(dst, uint64(u.CommitTs))
	dst = binary.BigEndian.AppendUint64(dst, uint64(u.DurableTs))
	dst = binary.BigEndian.AppendUint64(dst, u.Seq)
	dst = binary.AppendUvarint(dst, uint64(len(u.Value)))
	dst = append(dst, u.Value...)
	dst = binary.AppendUvarint(dst, uint64(len(u.Patches)))
	for _, p := range u.Patches {
		dst = binary.AppendUvarint(dst, uint64(p.Offset))
		dst = binary.AppendUvarint(dst, uint64(p.Size))
		dst = binary.AppendUvarint(dst, uint64(len(p.Data)))
		dst = append(dst, p.Data...)
	}
	return dst
}

// Decode parses one record from b and returns the number of bytes consumed.
func Decode(b []byte) (Update, int, error) {
	var u Update
	if len(b) < 34 {
		return u, 0, errShort
	}
	if b[0] != codecVersion {
		return u, 0, errors.Newf("unknown update codec version %d", b[0])
	}
	u.Kind = Kind(b[1])
	if u.Kind > Delta {
		return u, 0, errors.Newf("unknown update kind %d", b[1])
	}
	u.TxnID = binary.BigEndian.Uint64(b[2:])
	u.CommitTs = timestamp.Timestamp(binary.BigEndian.Uint64(b[10:]))
	u.DurableTs = timestamp.Timestamp(binary.BigEndian.Uint64(b[18:]))
	u.Seq = binary.BigEndian.Uint64(b[26:])
	pos := 34

	val, n, err := readBytes(b[pos:])
	if err != nil {
		return u, 0, err
	}
	u.Value = val
	pos += n

	count, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return u, 0, errShort
	}
	pos += n
	if count > uint64(len(b)) {
		return u, 0, errors.Newf("patch count %d exceeds record", count)
	}
	for i := uint64(0); i < count; i++ {
		off, n1 := binary.Uvarint(b[pos:])
		if n1 <= 0 {
			return u, 0, errShort
		}
		pos += n1
		size, n2 := binary.Uvarint(b[pos:])
		if n2 <= 0 {
			return u, 0, errShort
		}
		pos += n2
		data, n3, err := readBytes(b[pos:])
		if err != nil {
			return u, 0, err
		}
		pos += n3
		u.Patches = append(u.Patches, Patch{Offset: int(off), Size: int(size), Data: data})
	}
	return u, pos, nil
}

func readBytes(b []byte) ([]byte, int, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < l {
		return nil, 0, errShort
	}
	if l == 0 {
		return nil, n, nil
	}
	out := make([]byte, l)
	copy(out, b[n:n+int(l)])
	return out, n + int(l), nil
}
