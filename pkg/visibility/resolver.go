// Package visibility decides which version of a key a snapshot may read.
package visibility

import (
	"context"
	"math"

	"github.com/dborchard/tempokv/pkg/chain"
	"github.com/dborchard/tempokv/pkg/hs"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/errs"
)

// Visible reports whether s may read u.
func Visible(u *update.Update, s *txn.Snapshot) bool {
	if u.TxnID == s.TxnID {
		return true
	}
	if !s.Sees(u.TxnID) {
		return false
	}
	if s.HasReadTs() && u.CommitTs.IsSet() && u.CommitTs > s.ReadTs {
		return false
	}
	return true
}

type Source int

const (
	NotFound Source = iota
	Memory
	History
)

type Result struct {
	Value []byte
	Found bool
	// Source is where the first visible version was found.
	Source Source
}

type Resolver struct {
	hs    hs.IO
	table uint32
}

func NewResolver(store hs.IO, table uint32) *Resolver {
	return &Resolver{hs: store, table: table}
}

// walker carries the reconstruction state across the chain and the history store.
type walker struct {
	snap   *txn.Snapshot
	key    []byte
	found  bool
	done   bool
	deltas []*update.Update
	res    Result
	err    error
}

// step consumes one version, newest to oldest. It returns false once the walk is over.
func (w *walker) step(u *update.Update, src Source) bool {
	if !w.found {
		if !Visible(u, w.snap) {
			return true
		}
		w.found = true
		w.res.Source = src
	}
	switch u.Kind {
	case update.Value:
		w.res.Value = update.Reconstruct(u.Value, w.deltas)
		w.res.Found = true
	case update.Tombstone:
		if len(w.deltas) > 0 {
			w.err = errs.Corruption(nil, "key %q: delta seq %d applies to a tombstone", w.key, w.deltas[len(w.deltas)-1].Seq)
		}
	case update.Delta:
		d := *u
		w.deltas = append(w.deltas, &d)
		return true
	}
	w.done = true
	return false
}

// Resolve returns the version of c visible to s. The caller keeps an epoch
// guard for the duration of the call.
func (r *Resolver) Resolve(ctx context.Context, c *chain.Chain, key []byte, s *txn.Snapshot) (Result, error) {
	w := &walker{snap: s, key: key}

	before := uint64(math.MaxUint64)
	if c != nil {
		// a full value or tombstone on top needs no reconstruction
		if u, ok := c.FindVisible(func(u *update.Update) bool { return Visible(u, s) }); ok && u.Kind != update.Delta {
			if u.Kind == update.Tombstone {
				return Result{Source: Memory}, nil
			}
			return Result{Value: update.Reconstruct(u.Value, nil), Found: true, Source: Memory}, nil
		}
		c.Walk(func(e chain.Entry) bool {
			before = e.Upd.Seq
			return w.step(e.Upd, Memory)
		})
		if w.done {
			return w.res, w.err
		}
		if !c.Spilled.Load() && !w.found {
			return Result{}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	err := r.hs.Scan(r.table, key, before, func(e hs.Entry) bool {
		return w.step(&e.Upd, History)
	})
	if err != nil {
		return Result{}, err
	}
	if w.done {
		return w.res, w.err
	}
	if len(w.deltas) > 0 {
		return Result{}, errs.Corruption(nil, "key %q: delta seq %d has no base value", key, w.deltas[len(w.deltas)-1].Seq)
	}
	return Result{}, nil
}
