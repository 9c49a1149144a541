package kv

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/config"
	"github.com/dborchard/tempokv/pkg/hs"
	"github.com/dborchard/tempokv/pkg/txnlog"
)

type Option func(*openOptions)

type openOptions struct {
	fs vfs.FS
}

// WithFS runs the durable parts of the store on fs, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *openOptions) { o.fs = fs }
}

func NewHistoryStore(cfg *config.Config, fs vfs.FS) (hs.IO, error) {
	typ, err := hs.ParseType(cfg.HistoryStore)
	if err != nil {
		return nil, err
	}
	return hs.NewHistoryStore(typ, hs.Options{Dir: cfg.DataDir, FS: fs})
}

func NewTxnLog(cfg *config.Config, fs vfs.FS) (txnlog.Log, error) {
	switch cfg.TxnLog {
	case config.TxnLogNone, "":
		return txnlog.Nop{}, nil
	case config.TxnLogFile:
		return txnlog.Open(fs, cfg.DataDir, cfg.TxnLogSync)
	default:
		return nil, errors.Newf("unknown txn log %q", cfg.TxnLog)
	}
}

// Open validates cfg and builds a store, replaying the transaction log if one
// is configured. Background eviction stops when ctx is cancelled or on Close.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	store, err := NewHistoryStore(&cfg, o.fs)
	if err != nil {
		return nil, err
	}
	log, err := NewTxnLog(&cfg, o.fs)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s, err := newStore(cfg, store, log)
	if err != nil {
		_ = log.Close()
		_ = store.Close()
		return nil, err
	}
	if err := s.recover(); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "recover")
	}
	s.start(ctx)
	return s, nil
}
