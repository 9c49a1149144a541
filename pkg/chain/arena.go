package chain

import (
	"sync"
	"sync/atomic"

	"github.com/dborchard/tempokv/pkg/update"
)

// ID addresses a record in the arena. Zero is the nil link.
type ID uint64

const (
	chunkBits = 10
	chunkSize = 1 << chunkBits
)

type record struct {
	upd  update.Update
	next atomic.Uint64
	refs atomic.Int32
}

type chunk [chunkSize]record

// Arena stores update records in fixed chunks so a record never moves while
// a reader holds its ID. Chunk growth is copy-on-write; lookups take no lock.
type Arena struct {
	mu     sync.Mutex
	chunks atomic.Pointer[[]*chunk]
	free   []ID
	used   uint64

	live atomic.Int64
}

func NewArena() *Arena {
	a := &Arena{}
	empty := make([]*chunk, 0)
	a.chunks.Store(&empty)
	return a
}

func (a *Arena) rec(id ID) *record {
	slot := uint64(id) - 1
	chunks := *a.chunks.Load()
	return &chunks[slot>>chunkBits][slot&(chunkSize-1)]
}

// Alloc copies u into a free slot. The record starts with one reference owned
// by the chain it is linked into.
func (a *Arena) Alloc(u update.Update) ID {
	a.mu.Lock()
	var id ID
	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		if a.used%chunkSize == 0 {
			old := *a.chunks.Load()
			grown := make([]*chunk, len(old), len(old)+1)
			copy(grown, old)
			grown = append(grown, new(chunk))
			a.chunks.Store(&grown)
		}
		a.used++
		id = ID(a.used)
	}
	r := a.rec(id)
	r.upd = u
	r.next.Store(0)
	r.refs.Store(1)
	a.mu.Unlock()

	a.live.Add(1)
	return id
}

// Get returns the record's update. The pointer is valid until the record is freed.
func (a *Arena) Get(id ID) *update.Update {
	return &a.rec(id).upd
}

func (a *Arena) Next(id ID) ID {
	return ID(a.rec(id).next.Load())
}

func (a *Arena) setNext(id, next ID) {
	a.rec(id).next.Store(uint64(next))
}

// Acquire takes an extra reference, e.g. while a migration batch encodes the record.
func (a *Arena) Acquire(id ID) {
	a.rec(id).refs.Add(1)
}

// Release drops a reference and frees the slot when none remain.
func (a *Arena) Release(id ID) bool {
	r := a.rec(id)
	if r.refs.Add(-1) > 0 {
		return false
	}
	a.mu.Lock()
	r.upd = update.Update{}
	r.next.Store(0)
	a.free = append(a.free, id)
	a.mu.Unlock()

	a.live.Add(-1)
	return true
}

// Live is the number of allocated records.
func (a *Arena) Live() int64 { return a.live.Load() }

// Capacity is the number of slots ever handed out.
func (a *Arena) Capacity() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
