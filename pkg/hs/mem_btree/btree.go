package mem_btree

import (
	"bytes"
	"sync"

	"github.com/dborchard/tempokv/pkg/hs/record"
	"github.com/dborchard/tempokv/pkg/y/entry"
	"github.com/tidwall/btree"
)

// IO keeps encoded history store entries in a btree ordered by internal key.
// Values go through the same codec as the durable backend.
type IO struct {
	sync.RWMutex
	tree *btree.BTreeG[entry.Pair[[]byte, []byte]]
}

func NewMBtreeIO() *IO {
	return &IO{tree: newTree()}
}

func newTree() *btree.BTreeG[entry.Pair[[]byte, []byte]] {
	return btree.NewBTreeGOptions(func(a, b entry.Pair[[]byte, []byte]) bool {
		return entry.CompareKeys(a.Key, b.Key) < 0
	}, btree.Options{NoLocks: true})
}

func (m *IO) Insert(entries []record.Entry) error {
	m.Lock()
	defer m.Unlock()

	for i := range entries {
		e := &entries[i]
		m.tree.Set(entry.Pair[[]byte, []byte]{Key: e.InternalKey(), Val: record.EncodeValue(e)})
	}
	return nil
}

func (m *IO) Scan(table uint32, key []byte, before uint64, fn func(record.Entry) bool) error {
	if before == 0 {
		return nil
	}
	prefix := entry.KeyPrefix(table, key)
	pivot := entry.Pair[[]byte, []byte]{Key: entry.KeyWithSeq(table, key, before-1)}

	m.RLock()
	defer m.RUnlock()

	var err error
	m.tree.Descend(pivot, func(item entry.Pair[[]byte, []byte]) bool {
		if !bytes.HasPrefix(item.Key, prefix) {
			return false
		}
		var e record.Entry
		if e, err = record.Decode(item.Key, item.Val); err != nil {
			return false
		}
		return fn(e)
	})
	return err
}

func (m *IO) Ascend(table uint32, key []byte, fn func(record.Entry) bool) error {
	prefix := entry.KeyPrefix(table, key)
	pivot := entry.Pair[[]byte, []byte]{Key: entry.KeyWithSeq(table, key, 0)}

	m.RLock()
	defer m.RUnlock()

	var err error
	m.tree.Ascend(pivot, func(item entry.Pair[[]byte, []byte]) bool {
		if !bytes.HasPrefix(item.Key, prefix) {
			return false
		}
		var e record.Entry
		if e, err = record.Decode(item.Key, item.Val); err != nil {
			return false
		}
		return fn(e)
	})
	return err
}

func (m *IO) RemoveBefore(table uint32, key []byte, seq uint64) (int, error) {
	if seq == 0 {
		return 0, nil
	}
	prefix := entry.KeyPrefix(table, key)
	pivot := entry.Pair[[]byte, []byte]{Key: entry.KeyWithSeq(table, key, seq-1)}

	m.Lock()
	defer m.Unlock()

	var doomed []entry.Pair[[]byte, []byte]
	m.tree.Descend(pivot, func(item entry.Pair[[]byte, []byte]) bool {
		if !bytes.HasPrefix(item.Key, prefix) {
			return false
		}
		doomed = append(doomed, item)
		return true
	})
	for _, item := range doomed {
		m.tree.Delete(item)
	}
	return len(doomed), nil
}

func (m *IO) Reset() error {
	m.Lock()
	defer m.Unlock()
	m.tree = newTree()
	return nil
}

func (m *IO) Len() int {
	m.RLock()
	defer m.RUnlock()
	return m.tree.Len()
}

// corrupt overwrites a stored value. Tests only.
func (m *IO) corrupt(k []byte, v []byte) {
	m.Lock()
	defer m.Unlock()
	m.tree.Set(entry.Pair[[]byte, []byte]{Key: k, Val: v})
}

func (m *IO) Close() error {
	return m.Reset()
}

func (m *IO) Name() string {
	return "mbtree"
}
