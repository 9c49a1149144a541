package txn

import (
	"fmt"

	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"golang.org/x/exp/slices"
)

// Snapshot is the visibility state captured when a transaction begins.
// It never changes afterwards.
type Snapshot struct {
	TxnID uint64
	// Min is the oldest id running at capture. Every id below it had finished.
	Min uint64
	// Max is the first id handed out after capture. Ids at or above it are invisible.
	Max    uint64
	ReadTs timestamp.Timestamp

	active []uint64 // sorted
}

// Sees reports whether updates written by txnID are part of this snapshot,
// ignoring timestamps.
func (s *Snapshot) Sees(txnID uint64) bool {
	if txnID == s.TxnID {
		return true
	}
	if txnID >= s.Max {
		return false
	}
	if txnID < s.Min {
		return true
	}
	_, running := slices.BinarySearch(s.active, txnID)
	return !running
}

func (s *Snapshot) HasReadTs() bool { return s.ReadTs.IsSet() }

// Active returns a copy of the ids that were running at capture.
func (s *Snapshot) Active() []uint64 {
	return slices.Clone(s.active)
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot{txn=%d min=%d max=%d active=%v read_ts=%s}", s.TxnID, s.Min, s.Max, s.active, s.ReadTs)
}
