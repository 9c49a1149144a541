package kv

import (
	"context"
	"io"

	"github.com/dborchard/tempokv/pkg/cache"
	"github.com/dborchard/tempokv/pkg/evict"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
)

type KV interface {
	Begin(opts ...txn.Option) (*Txn, error)
	// Read returns the version of key visible to snap. A missing or deleted key
	// is reported with found == false and a nil error.
	Read(ctx context.Context, key []byte, snap *txn.Snapshot) (val []byte, found bool, err error)
	// Write stages m in the write set of t. Nothing is visible to others before t commits.
	Write(key []byte, m Mutation, t *Txn) error

	EvictHint(level cache.Level)
	Evict(ctx context.Context) (evict.Stats, error)
	SetOldestTimestamp(ts timestamp.Timestamp) error

	WritePrometheus(w io.Writer)
	Close() error

	HistoryStoreName() string
}

var _ KV = new(Store)

// Mutation is one staged change to a key.
type Mutation struct {
	Kind    update.Kind
	Value   []byte
	Patches []update.Patch
}

func Value(v []byte) Mutation { return Mutation{Kind: update.Value, Value: v} }

func Tombstone() Mutation { return Mutation{Kind: update.Tombstone} }

func Delta(patches ...update.Patch) Mutation { return Mutation{Kind: update.Delta, Patches: patches} }

type CommitOptions struct {
	CommitTs timestamp.Timestamp
	// DurableTs defaults to CommitTs.
	DurableTs timestamp.Timestamp
}
