// Package txnlog records committed transactions so the version chains can be
// rebuilt after a restart.
package txnlog

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
)

type KeyedUpdate struct {
	Key []byte
	Upd update.Update
}

// CommitRecord is everything one commit appended, in append order.
type CommitRecord struct {
	TxnID     uint64
	CommitTs  timestamp.Timestamp
	DurableTs timestamp.Timestamp
	Updates   []KeyedUpdate
}

type Log interface {
	// LogCommit must be durable before the commit becomes visible.
	LogCommit(rec *CommitRecord) error
	// Replay visits the logged commits oldest first.
	Replay(fn func(rec CommitRecord) error) error
	Close() error
}

var _ Log = Nop{}
var _ Log = new(FileLog)

// Nop keeps nothing. Used when durability comes from elsewhere.
type Nop struct{}

func (Nop) LogCommit(*CommitRecord) error             { return nil }
func (Nop) Replay(func(rec CommitRecord) error) error { return nil }
func (Nop) Close() error                              { return nil }

func (r *CommitRecord) encode(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, r.TxnID)
	dst = binary.BigEndian.AppendUint64(dst, uint64(r.CommitTs))
	dst = binary.BigEndian.AppendUint64(dst, uint64(r.DurableTs))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(r.Updates)))
	for i := range r.Updates {
		ku := &r.Updates[i]
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(ku.Key)))
		dst = append(dst, ku.Key...)
		dst = update.Append(dst, &ku.Upd)
	}
	return dst
}

func decodeRecord(b []byte) (CommitRecord, error) {
	var r CommitRecord
	if len(b) < 28 {
		return r, errors.Newf("commit record too short (%d bytes)", len(b))
	}
	r.TxnID = binary.BigEndian.Uint64(b)
	r.CommitTs = timestamp.Timestamp(binary.BigEndian.Uint64(b[8:]))
	r.DurableTs = timestamp.Timestamp(binary.BigEndian.Uint64(b[16:]))
	n := binary.BigEndian.Uint32(b[24:])
	pos := 28
	for i := uint32(0); i < n; i++ {
		if len(b)-pos < 4 {
			return r, errors.Newf("commit record %d: update %d truncated", r.TxnID, i)
		}
		kl := int(binary.BigEndian.Uint32(b[pos:]))
		pos += 4
		if len(b)-pos < kl {
			return r, errors.Newf("commit record %d: key of update %d truncated", r.TxnID, i)
		}
		key := append([]byte(nil), b[pos:pos+kl]...)
		pos += kl
		u, used, err := update.Decode(b[pos:])
		if err != nil {
			return r, errors.Wrapf(err, "commit record %d: update %d", r.TxnID, i)
		}
		pos += used
		r.Updates = append(r.Updates, KeyedUpdate{Key: key, Upd: u})
	}
	if pos != len(b) {
		return r, errors.Newf("commit record %d: %d trailing bytes", r.TxnID, len(b)-pos)
	}
	return r, nil
}
