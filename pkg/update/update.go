package update

import (
	"fmt"

	"github.com/dborchard/tempokv/pkg/y/timestamp"
)

type Kind uint8

const (
	Value Kind = iota
	Tombstone
	Delta
)

func (k Kind) String() string {
	switch k {
	case Value:
		return "value"
	case Tombstone:
		return "tombstone"
	case Delta:
		return "delta"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Patch replaces Size bytes at Offset with Data.
type Patch struct {
	Offset int
	Size   int
	Data   []byte
}

// Update is one version of a key.
type Update struct {
	TxnID     uint64
	CommitTs  timestamp.Timestamp
	DurableTs timestamp.Timestamp
	Kind      Kind
	Value     []byte
	Patches   []Patch

	// Seq orders versions of one key. Assigned by the chain at append and kept
	// when the version moves into the history store.
	Seq uint64
}

// overhead approximates the fixed cost of a resident record.
const overhead = 64

func (u *Update) Size() int {
	n := overhead + len(u.Value)
	for _, p := range u.Patches {
		n += 16 + len(p.Data)
	}
	return n
}

func (u *Update) IsTimestamped() bool { return u.CommitTs.IsSet() }

func (u *Update) String() string {
	return fmt.Sprintf("{seq=%d txn=%d commit=%s durable=%s %s}", u.Seq, u.TxnID, u.CommitTs, u.DurableTs, u.Kind)
}

// ApplyPatches applies patches in order onto a copy of base.
func ApplyPatches(base []byte, patches []Patch) []byte {
	out := append([]byte(nil), base...)
	for _, p := range patches {
		out = applyPatch(out, p)
	}
	return out
}

func applyPatch(v []byte, p Patch) []byte {
	if p.Offset > len(v) {
		v = append(v, make([]byte, p.Offset-len(v))...)
	}
	end := p.Offset + p.Size
	if end > len(v) {
		end = len(v)
	}
	out := make([]byte, 0, len(v)-(end-p.Offset)+len(p.Data))
	out = append(out, v[:p.Offset]...)
	out = append(out, p.Data...)
	out = append(out, v[end:]...)
	return out
}

// Reconstruct rebuilds the value seen through a run of deltas.
// deltas are newest-first as collected while walking a chain; base is the
// nearest older full value.
func Reconstruct(base []byte, deltas []*Update) []byte {
	v := base
	for i := len(deltas) - 1; i >= 0; i-- {
		v = ApplyPatches(v, deltas[i].Patches)
	}
	return v
}
