package chain

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/errs"
)

// Chain is the newest-first list of in-memory versions of one key.
// Appends and truncation serialize on mu; walks only follow atomic links.
type Chain struct {
	Key   []byte
	arena *Arena

	head atomic.Uint64

	mu  sync.Mutex
	seq uint64

	length   atomic.Int32
	resident atomic.Int64

	// Spilled is set once any version of the key lives in the history store.
	Spilled atomic.Bool
	// SquashedSeq is the seq of the newest non-timestamped version whose
	// timestamp clearing has been applied to the history store.
	SquashedSeq atomic.Uint64

	evicting atomic.Bool
}

// Entry is a record id with its update, as seen by a walk.
type Entry struct {
	ID  ID
	Upd *update.Update
}

func New(key []byte, arena *Arena) *Chain {
	return &Chain{Key: key, arena: arena}
}

// CheckAppend validates u against the current newest version without appending.
func (c *Chain) CheckAppend(u *update.Update) error {
	return checkOrder(c.Newest(), u, c.Key)
}

func checkOrder(newest, u *update.Update, key []byte) error {
	if newest == nil {
		return nil
	}
	if u.TxnID <= newest.TxnID {
		return errs.OutOfOrder("key %q: txn %d is not newer than txn %d", key, u.TxnID, newest.TxnID)
	}
	// a timestamp may restart below an older one after a non-timestamped update
	if u.CommitTs.IsSet() && newest.CommitTs.IsSet() && u.CommitTs < newest.CommitTs {
		return errs.OutOfOrder("key %q: commit timestamp %s is older than %s", key, u.CommitTs, newest.CommitTs)
	}
	return nil
}

// Append links u as the newest version. It returns the stored copy and the
// size of the version it superseded (zero for the first version).
func (c *Chain) Append(u update.Update) (*update.Update, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := ID(c.head.Load())
	var prevUpd *update.Update
	if prev != 0 {
		prevUpd = c.arena.Get(prev)
	}
	if err := checkOrder(prevUpd, &u, c.Key); err != nil {
		return nil, 0, err
	}

	c.seq++
	u.Seq = c.seq
	id := c.arena.Alloc(u)
	c.arena.setNext(id, prev)
	c.head.Store(uint64(id))

	c.length.Add(1)
	c.resident.Add(int64(u.Size()))

	superseded := 0
	if prevUpd != nil {
		superseded = prevUpd.Size()
	}
	return c.arena.Get(id), superseded, nil
}

func (c *Chain) Newest() *update.Update {
	id := ID(c.head.Load())
	if id == 0 {
		return nil
	}
	return c.arena.Get(id)
}

// Walk visits in-memory versions newest to oldest until fn returns false.
func (c *Chain) Walk(fn func(e Entry) bool) {
	for id := ID(c.head.Load()); id != 0; id = c.arena.Next(id) {
		if !fn(Entry{ID: id, Upd: c.arena.Get(id)}) {
			return
		}
	}
}

// FindVisible returns the first version accepted by visible. Reconstruction of
// deltas is left to the caller.
func (c *Chain) FindVisible(visible func(*update.Update) bool) (*update.Update, bool) {
	var found *update.Update
	c.Walk(func(e Entry) bool {
		if visible(e.Upd) {
			found = e.Upd
			return false
		}
		return true
	})
	return found, found != nil
}

// OldestInMemory is the boundary between the chain and the history store.
func (c *Chain) OldestInMemory() *update.Update {
	var oldest *update.Update
	c.Walk(func(e Entry) bool {
		oldest = e.Upd
		return true
	})
	return oldest
}

// Entries returns the in-memory versions newest first.
func (c *Chain) Entries() []Entry {
	out := make([]Entry, 0, c.Len())
	c.Walk(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Truncate unlinks every version older than keep and returns their ids with
// their total size. Records stay allocated; the caller retires them.
func (c *Chain) Truncate(keep ID) ([]ID, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for id := ID(c.head.Load()); id != 0; id = c.arena.Next(id) {
		if id == keep {
			found = true
			break
		}
	}
	if !found {
		return nil, 0, errors.Newf("key %q: record %d is not linked", c.Key, keep)
	}

	var (
		ids   []ID
		bytes int64
	)
	for id := c.arena.Next(keep); id != 0; id = c.arena.Next(id) {
		ids = append(ids, id)
		bytes += int64(c.arena.Get(id).Size())
	}
	c.arena.setNext(keep, 0)

	c.length.Add(-int32(len(ids)))
	c.resident.Add(-bytes)
	return ids, bytes, nil
}

// Seq is the version order of the newest appended version.
func (c *Chain) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Chain) Len() int { return int(c.length.Load()) }

func (c *Chain) ResidentBytes() int64 { return c.resident.Load() }

func (c *Chain) Arena() *Arena { return c.arena }

// TryLockEviction marks the chain as being evicted. Only one pass works on a
// chain at a time.
func (c *Chain) TryLockEviction() bool { return c.evicting.CompareAndSwap(false, true) }

func (c *Chain) UnlockEviction() { c.evicting.Store(false) }
