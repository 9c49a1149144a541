package pebble_hs

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dborchard/tempokv/pkg/hs/record"
	"github.com/dborchard/tempokv/pkg/y/entry"
	"github.com/dborchard/tempokv/pkg/y/logging"
)

var plog = logging.GetLogger("hs/pebble")

// IO is the durable history store. Every version of a key sits in one
// contiguous key range ordered by seq.
type IO struct {
	db  *pebble.DB
	dir string
}

type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) { plog.Debugf(format, args...) }

func (pebbleLogger) Fatalf(format string, args ...interface{}) { plog.Panicf(format, args...) }

// Open opens or creates the store under dir. A nil fs means the OS filesystem.
func Open(dir string, fs vfs.FS) (*IO, error) {
	if fs == nil {
		fs = vfs.Default
	}
	db, err := pebble.Open(dir, &pebble.Options{
		FS:     fs,
		Logger: pebbleLogger{},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open history store at %s", dir)
	}
	plog.Infof("history store opened at %s", dir)
	return &IO{db: db, dir: dir}, nil
}

func (p *IO) Insert(entries []record.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	b := p.db.NewBatch()
	defer b.Close()
	for i := range entries {
		e := &entries[i]
		if err := b.Set(e.InternalKey(), record.EncodeValue(e), nil); err != nil {
			return errors.Wrap(err, "history store batch")
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "history store commit")
}

func (p *IO) Scan(table uint32, key []byte, before uint64, fn func(record.Entry) bool) error {
	if before == 0 {
		return nil
	}
	iter := p.db.NewIter(&pebble.IterOptions{
		LowerBound: entry.KeyWithSeq(table, key, 0),
		UpperBound: entry.KeyWithSeq(table, key, before),
	})
	for valid := iter.Last(); valid; valid = iter.Prev() {
		e, err := record.Decode(iter.Key(), iter.Value())
		if err != nil {
			_ = iter.Close()
			return err
		}
		if !fn(e) {
			break
		}
	}
	return closeIter(iter)
}

func (p *IO) Ascend(table uint32, key []byte, fn func(record.Entry) bool) error {
	iter := p.db.NewIter(&pebble.IterOptions{
		LowerBound: entry.KeyWithSeq(table, key, 0),
		UpperBound: append(entry.KeyPrefix(table, key), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff),
	})
	for valid := iter.First(); valid; valid = iter.Next() {
		e, err := record.Decode(iter.Key(), iter.Value())
		if err != nil {
			_ = iter.Close()
			return err
		}
		if !fn(e) {
			break
		}
	}
	return closeIter(iter)
}

func (p *IO) RemoveBefore(table uint32, key []byte, seq uint64) (int, error) {
	if seq == 0 {
		return 0, nil
	}
	lower, upper := entry.KeyWithSeq(table, key, 0), entry.KeyWithSeq(table, key, seq)

	n := 0
	iter := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	if err := closeIter(iter); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := p.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return 0, errors.Wrapf(err, "remove history of %q below seq %d", key, seq)
	}
	return n, nil
}

var keyspaceEnd = []byte{0xff, 0xff, 0xff, 0xff, 0xff}

func (p *IO) Reset() error {
	return errors.Wrap(p.db.DeleteRange([]byte{}, keyspaceEnd, pebble.Sync), "reset history store")
}

func (p *IO) Len() int {
	n := 0
	iter := p.db.NewIter(nil)
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	_ = iter.Close()
	return n
}

// corrupt overwrites a stored value. Tests only.
func (p *IO) corrupt(k, v []byte) error {
	return p.db.Set(k, v, pebble.Sync)
}

func (p *IO) Close() error {
	return p.db.Close()
}

func (p *IO) Name() string {
	return "pebble"
}

func closeIter(iter *pebble.Iterator) error {
	err := iter.Error()
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "history store iterator")
}
