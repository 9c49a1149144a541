package kv

import (
	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/txnlog"
	"github.com/dborchard/tempokv/pkg/y/errs"
)

// recover rebuilds the chains from the transaction log. The history store only
// ever holds copies of logged versions, so it is cleared first and refilled by
// eviction.
func (s *Store) recover() error {
	if err := s.hs.Reset(); err != nil {
		return errors.Wrap(err, "reset history store")
	}

	var (
		maxTxn  uint64
		commits int
		updates int
	)
	err := s.log.Replay(func(rec txnlog.CommitRecord) error {
		for _, ku := range rec.Updates {
			u := ku.Upd
			u.Seq = 0
			if err := s.apply(ku.Key, u); err != nil {
				return errs.Corruption(err, "replay txn %d", rec.TxnID)
			}
			updates++
		}
		if rec.TxnID > maxTxn {
			maxTxn = rec.TxnID
		}
		commits++
		return nil
	})
	if err != nil {
		return err
	}
	s.auth.AdvanceTo(maxTxn)
	if commits > 0 {
		plog.Infof("replayed %d commits (%d updates), next txn above %d", commits, updates, maxTxn)
	}
	return nil
}
