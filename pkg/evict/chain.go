package evict

import (
	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/chain"
	"github.com/dborchard/tempokv/pkg/hs"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
)

// plan is the decision for one chain. Indexes refer to the newest-first entries.
type plan struct {
	// base is the newest globally visible full value or tombstone, -1 if it is
	// not in memory. Everything older is unreachable.
	base int
	// migrate are the indexes copied to the history store.
	migrate []int
	// drop are the indexes freed without a copy.
	drop []int
	// firstNoTs is the newest non-timestamped entry, -1 if none.
	firstNoTs int
}

// obsoletes reports whether u hides every older version from every open and
// future reader. A tombstone only qualifies under the same rule as a value, so
// a non-timestamped update still needed below a pinned read timestamp is kept
// even when a delete follows it.
func obsoletes(u *update.Update, b txn.Boundary) bool {
	return u.Kind != update.Delta && b.GloballyVisible(u.TxnID, u.CommitTs)
}

func makePlan(entries []chain.Entry, b txn.Boundary) plan {
	p := plan{base: -1, firstNoTs: -1}

	// 1. newest globally visible version, then down to its full value
	for i, e := range entries {
		if !b.GloballyVisible(e.Upd.TxnID, e.Upd.CommitTs) {
			continue
		}
		for j := i; j < len(entries); j++ {
			u := entries[j].Upd
			if u.Kind == update.Value || obsoletes(u, b) {
				p.base = j
				break
			}
			if u.Kind == update.Tombstone {
				break
			}
		}
		break
	}

	for i, e := range entries {
		if !e.Upd.IsTimestamped() {
			p.firstNoTs = i
			break
		}
	}

	// 2. newest stays resident; older ones up to base are copied, the rest dropped
	for i := 1; i < len(entries); i++ {
		if p.base >= 0 && i > p.base {
			p.drop = append(p.drop, i)
		} else {
			p.migrate = append(p.migrate, i)
		}
	}
	return p
}

// squash clears the timestamps of a version that has a non-timestamped
// version above it. Once in the history store such versions read as "now".
func squash(u *update.Update) {
	u.CommitTs = timestamp.None
	u.DurableTs = timestamp.None
}

func (c *Coordinator) evictChain(ch *chain.Chain, b txn.Boundary) (Stats, error) {
	if !ch.TryLockEviction() {
		return Stats{}, nil
	}
	defer ch.UnlockEviction()

	entries := ch.Entries()
	if len(entries) == 0 {
		return Stats{}, nil
	}
	p := makePlan(entries, b)
	st := Stats{Chains: 1}

	// 1. Fix timestamps already in the history store
	if p.firstNoTs >= 0 && ch.Spilled.Load() && entries[p.firstNoTs].Upd.Seq > ch.SquashedSeq.Load() {
		// only this pass truncates, so the oldest resident version is stable
		if err := c.squashHistory(ch, ch.OldestInMemory().Seq); err != nil {
			return st, err
		}
	}
	if p.firstNoTs >= 0 {
		ch.SquashedSeq.Store(entries[p.firstNoTs].Upd.Seq)
	}

	// 2. Copy. The chain is not touched until the copies are durable.
	if len(p.migrate) > 0 {
		arena := ch.Arena()
		batch := make([]hs.Entry, 0, len(p.migrate))
		for _, i := range p.migrate {
			arena.Acquire(entries[i].ID)
			e := hs.Entry{Table: c.opts.Table, Key: ch.Key, Upd: *entries[i].Upd}
			newer := *entries[i-1].Upd
			if p.firstNoTs >= 0 && i > p.firstNoTs {
				squash(&e.Upd)
			}
			if p.firstNoTs >= 0 && i-1 > p.firstNoTs {
				squash(&newer)
			}
			e.StopTxn, e.StopTs = newer.TxnID, newer.CommitTs
			batch = append(batch, e)
		}
		err := c.hs.Insert(batch)
		for _, i := range p.migrate {
			arena.Release(entries[i].ID)
		}
		if err != nil {
			return st, errors.Wrapf(err, "migrate %d versions of %q", len(batch), ch.Key)
		}
		ch.Spilled.Store(true)
		st.Migrated = len(batch)
	}

	// 3. Unlink and retire
	if len(entries) > 1 {
		ids, bytes, err := ch.Truncate(entries[0].ID)
		if err != nil {
			return st, err
		}
		arena := ch.Arena()
		c.epochs.Retire(func() {
			for _, id := range ids {
				arena.Release(id)
			}
			c.acct.Release(bytes)
		})
		st.Dropped = len(ids) - st.Migrated
		st.Freed = bytes
	}

	// 4. History older than base is unreachable
	if p.base >= 0 && ch.Spilled.Load() {
		n, err := c.hs.RemoveBefore(c.opts.Table, ch.Key, entries[p.base].Upd.Seq)
		if err != nil {
			return st, err
		}
		st.Removed = n
		if p.base == 0 {
			ch.Spilled.Store(false)
		}
	}

	// 5. Chains with nothing left to do leave the candidate set
	if !ch.Spilled.Load() {
		c.cands.Remove(ch)
		if ch.Len() > 1 {
			c.cands.Add(ch)
		}
	}
	return st, nil
}

// squashHistory rewrites the history of ch below seq with cleared timestamps.
func (c *Coordinator) squashHistory(ch *chain.Chain, before uint64) error {
	var rewrite []hs.Entry
	err := c.hs.Scan(c.opts.Table, ch.Key, before, func(e hs.Entry) bool {
		if e.Upd.IsTimestamped() || e.StopTs.IsSet() {
			squash(&e.Upd)
			e.StopTs = timestamp.None
			rewrite = append(rewrite, e)
		}
		return true
	})
	if err != nil {
		return err
	}
	return c.hs.Insert(rewrite)
}
