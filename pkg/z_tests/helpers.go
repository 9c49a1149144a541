package tests

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/config"
	"github.com/dborchard/tempokv/pkg/kv"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory opens a store for cfg on fs. Opening twice on the same fs must
// find what the first store left behind.
type StoreFactory func(t *testing.T, cfg config.Config, fs vfs.FS) *kv.Store

// Config is a store without background eviction, so scenarios decide when
// versions move.
func Config() config.Config {
	cfg := config.Default()
	cfg.CacheSize = 0
	cfg.EvictTarget = 0
	cfg.EvictInterval = 0
	cfg.EvictWorkers = 2
	return cfg
}

func ctx() context.Context { return context.Background() }

func createKey(i int) []byte {
	return []byte(fmt.Sprint(i))
}

func commitAt(t *testing.T, s *kv.Store, key []byte, val string, ts timestamp.Timestamp) {
	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put(key, []byte(val)))
	require.NoError(t, tx.Commit(context.Background(), kv.CommitOptions{CommitTs: ts}))
}

func modifyAt(t *testing.T, s *kv.Store, key []byte, ts timestamp.Timestamp, patches ...update.Patch) {
	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Modify(key, patches...))
	require.NoError(t, tx.Commit(context.Background(), kv.CommitOptions{CommitTs: ts}))
}

func begin(t *testing.T, s *kv.Store, opts ...txn.Option) *kv.Txn {
	tx, err := s.Begin(opts...)
	require.NoError(t, err)
	return tx
}

func checkValue(t *testing.T, tx *kv.Txn, key []byte, want string) {
	got, found, err := tx.Read(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "txn %d: key %s not found", tx.ID(), key)
	assert.Equal(t, want, string(got), "txn %d", tx.ID())
}

// fill commits a value on every key in [from, to) and then evicts.
func fill(t *testing.T, s *kv.Store, from, to int, val string) {
	for i := from; i < to; i++ {
		commitAt(t, s, createKey(i), val, timestamp.None)
	}
	_, err := s.Evict(context.Background())
	require.NoError(t, err)
}
