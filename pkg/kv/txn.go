package kv

import (
	"context"

	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/errs"
)

type staged struct {
	upd update.Update
}

// Txn is a store transaction. Writes are staged until Commit and the
// transaction reads its own writes. A Txn is not safe for concurrent use.
type Txn struct {
	s      *Store
	inner  *txn.Txn
	writes map[string]*staged
	order  []string
}

func (t *Txn) ID() uint64 { return t.inner.ID() }

func (t *Txn) Snapshot() *txn.Snapshot { return t.inner.Snapshot() }

func (t *Txn) State() txn.State { return t.inner.State() }

func (t *Txn) Read(ctx context.Context, key []byte) ([]byte, bool, error) {
	w, ok := t.writes[string(key)]
	if !ok {
		return t.s.Read(ctx, key, t.inner.Snapshot())
	}
	switch w.upd.Kind {
	case update.Value:
		return append([]byte(nil), w.upd.Value...), true, nil
	case update.Tombstone:
		return nil, false, nil
	default:
		base, _, err := t.s.Read(ctx, key, t.inner.Snapshot())
		if err != nil {
			return nil, false, err
		}
		return update.ApplyPatches(base, w.upd.Patches), true, nil
	}
}

func (t *Txn) Put(key, value []byte) error {
	return t.stage(key, Value(value))
}

func (t *Txn) Delete(key []byte) error {
	return t.stage(key, Tombstone())
}

// Modify applies patches to the current value of key. A missing value reads as empty.
func (t *Txn) Modify(key []byte, patches ...update.Patch) error {
	return t.stage(key, Delta(patches...))
}

func (t *Txn) stage(key []byte, m Mutation) error {
	if !t.inner.IsRunning() {
		return errs.ErrTxnClosed
	}
	k := string(key)
	w, ok := t.writes[k]
	if !ok {
		w = &staged{}
		t.writes[k] = w
		t.order = append(t.order, k)
		w.upd = update.Update{Kind: m.Kind, Value: clone(m.Value), Patches: clonePatches(m.Patches)}
		return nil
	}

	if m.Kind != update.Delta {
		w.upd = update.Update{Kind: m.Kind, Value: clone(m.Value)}
		return nil
	}
	switch w.upd.Kind {
	case update.Value:
		w.upd.Value = update.ApplyPatches(w.upd.Value, m.Patches)
	case update.Tombstone:
		w.upd = update.Update{Kind: update.Value, Value: update.ApplyPatches(nil, m.Patches)}
	case update.Delta:
		w.upd.Patches = append(w.upd.Patches, clonePatches(m.Patches)...)
	}
	return nil
}

func (t *Txn) Commit(ctx context.Context, opts CommitOptions) error {
	return t.s.commit(ctx, t, opts)
}

func (t *Txn) Rollback() {
	t.s.auth.Rollback(t.inner)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func clonePatches(ps []update.Patch) []update.Patch {
	if len(ps) == 0 {
		return nil
	}
	out := make([]update.Patch, len(ps))
	for i, p := range ps {
		out[i] = update.Patch{Offset: p.Offset, Size: p.Size, Data: clone(p.Data)}
	}
	return out
}
