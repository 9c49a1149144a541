package hs

import (
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/hs/mem_btree"
	"github.com/dborchard/tempokv/pkg/hs/pebble_hs"
	"github.com/dborchard/tempokv/pkg/hs/record"
)

type Entry = record.Entry

// IO is the history store. Only the eviction coordinator and recovery write to it.
type IO interface {
	// Insert durably stores entries. Re-inserting an existing (table, key, seq)
	// replaces it.
	Insert(entries []Entry) error
	// Scan visits versions of key with seq below before, newest first.
	Scan(table uint32, key []byte, before uint64, fn func(Entry) bool) error
	// Ascend visits every version of key, oldest first.
	Ascend(table uint32, key []byte, fn func(Entry) bool) error
	// RemoveBefore drops versions of key with seq below seq.
	RemoveBefore(table uint32, key []byte, seq uint64) (int, error)
	Reset() error
	Len() int
	Close() error

	Name() string
}

var _ IO = new(mem_btree.IO)
var _ IO = new(pebble_hs.IO)

type Type int

const (
	MBtree Type = iota
	Pebble
)

func ParseType(s string) (Type, error) {
	switch s {
	case "mbtree", "":
		return MBtree, nil
	case "pebble":
		return Pebble, nil
	default:
		return 0, errors.Newf("unknown history store %q (expected mbtree or pebble)", s)
	}
}

type Options struct {
	Dir string
	// FS overrides the filesystem of the pebble backend, e.g. vfs.NewMem() in tests.
	FS vfs.FS
}

func NewHistoryStore(t Type, opts Options) (IO, error) {
	switch t {
	case MBtree:
		return mem_btree.NewMBtreeIO(), nil
	case Pebble:
		return pebble_hs.Open(filepath.Join(opts.Dir, "history"), opts.FS)
	default:
		return nil, errors.Newf("unknown history store type %d", t)
	}
}
