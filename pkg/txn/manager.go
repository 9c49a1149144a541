package txn

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/dborchard/tempokv/pkg/y/logging"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"golang.org/x/exp/slices"
)

var plog = logging.GetLogger("txn")

type State int32

const (
	Running State = iota
	Committed
	RolledBack
)

// Txn is a transaction handle issued by the Manager.
type Txn struct {
	id    uint64
	snap  *Snapshot
	state atomic.Int32

	CommitTs  timestamp.Timestamp
	DurableTs timestamp.Timestamp
}

func (t *Txn) ID() uint64                  { return t.id }
func (t *Txn) Snapshot() *Snapshot         { return t.snap }
func (t *Txn) State() State                { return State(t.state.Load()) }
func (t *Txn) IsRunning() bool             { return t.State() == Running }
func (t *Txn) ReadTs() timestamp.Timestamp { return t.snap.ReadTs }

// Boundary is the pinned line used by eviction.
type Boundary struct {
	// OldestTxn: updates by txns below it are visible to every open and future snapshot.
	OldestTxn uint64
	// PinnedTs: timestamped updates at or below it are visible to every read_ts
	// reader. None means no timestamped update is globally visible yet.
	PinnedTs timestamp.Timestamp
}

// GloballyVisible reports whether every open and future snapshot sees an update.
func (b Boundary) GloballyVisible(txnID uint64, commitTs timestamp.Timestamp) bool {
	if txnID >= b.OldestTxn {
		return false
	}
	if !commitTs.IsSet() {
		return true
	}
	return b.PinnedTs.IsSet() && commitTs <= b.PinnedTs
}

// Manager is the timestamp and snapshot authority.
type Manager struct {
	mu     sync.RWMutex
	nextID uint64
	active map[uint64]*Txn

	oldestTs atomic.Uint64
}

func NewManager() *Manager {
	return &Manager{
		nextID: 1,
		active: make(map[uint64]*Txn),
	}
}

type Option func(*beginOptions)

type beginOptions struct {
	readTs timestamp.Timestamp
}

// WithReadTs fixes the read timestamp of the transaction.
func WithReadTs(ts timestamp.Timestamp) Option {
	return func(o *beginOptions) { o.readTs = ts }
}

// Begin allocates a txn id and captures its snapshot.
func (m *Manager) Begin(opts ...Option) (*Txn, error) {
	var o beginOptions
	for _, opt := range opts {
		opt(&o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// checked under mu so a boundary never sees the new oldest timestamp
	// without this reader
	if oldest := m.OldestTimestamp(); o.readTs.IsSet() && oldest.IsSet() && o.readTs < oldest {
		return nil, errs.InvalidTimestamp("read timestamp %s is older than oldest timestamp %s", o.readTs, oldest)
	}

	id := m.nextID
	m.nextID++

	running := make([]uint64, 0, len(m.active))
	for other := range m.active {
		running = append(running, other)
	}
	slices.Sort(running)

	snap := &Snapshot{TxnID: id, Max: id, Min: id, ReadTs: o.readTs, active: running}
	if len(running) > 0 {
		snap.Min = running[0]
	}

	t := &Txn{id: id, snap: snap}
	m.active[id] = t
	return t, nil
}

// Stamp carries the validated commit point handed to the apply callback.
type Stamp struct {
	TxnID     uint64
	CommitTs  timestamp.Timestamp
	DurableTs timestamp.Timestamp
}

// Commit validates the timestamps, runs apply while the txn is still in the
// active set, then retires it. A failing apply rolls the txn back.
func (m *Manager) Commit(t *Txn, commitTs, durableTs timestamp.Timestamp, apply func(Stamp) error) error {
	if !t.IsRunning() {
		return errs.ErrTxnClosed
	}
	if !durableTs.IsSet() {
		durableTs = commitTs
	}
	if commitTs.IsSet() && durableTs < commitTs {
		m.Rollback(t)
		return errs.InvalidTimestamp("durable timestamp %s is before commit timestamp %s", durableTs, commitTs)
	}
	if !commitTs.IsSet() && durableTs.IsSet() {
		m.Rollback(t)
		return errs.InvalidTimestamp("durable timestamp %s without a commit timestamp", durableTs)
	}
	if oldest := m.OldestTimestamp(); commitTs.IsSet() && oldest.IsSet() && commitTs < oldest {
		m.Rollback(t)
		return errs.InvalidTimestamp("commit timestamp %s is older than oldest timestamp %s", commitTs, oldest)
	}

	stamp := Stamp{TxnID: t.id, CommitTs: commitTs, DurableTs: durableTs}
	if apply != nil {
		if err := apply(stamp); err != nil {
			m.Rollback(t)
			return err
		}
	}

	t.CommitTs, t.DurableTs = commitTs, durableTs
	m.finish(t, Committed)
	return nil
}

// Rollback retires a running txn. Calling it on a finished txn is a no-op.
func (m *Manager) Rollback(t *Txn) {
	m.finish(t, RolledBack)
}

func (m *Manager) finish(t *Txn, s State) {
	if !t.state.CompareAndSwap(int32(Running), int32(s)) {
		return
	}
	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()
}

// PinnedBoundary recomputes the boundary from the open transactions.
// The result may be stale by the time it is used; it only ever errs towards
// retaining more.
func (m *Manager) PinnedBoundary() Boundary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	oldest := m.OldestTimestamp()
	pinned := oldest

	b := Boundary{OldestTxn: m.nextID}
	for _, t := range m.active {
		if t.snap.Min < b.OldestTxn {
			b.OldestTxn = t.snap.Min
		}
		if t.snap.HasReadTs() {
			pinned = timestamp.Min(pinned, t.snap.ReadTs)
		}
	}
	// without an oldest timestamp any future reader may ask for any read_ts
	if !oldest.IsSet() {
		pinned = timestamp.None
	}
	b.PinnedTs = pinned
	return b
}

// SetOldestTimestamp moves the global oldest timestamp forward. Readers can no
// longer ask for anything older.
func (m *Manager) SetOldestTimestamp(ts timestamp.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.OldestTimestamp(); ts < cur {
		return errors.Wrapf(errs.ErrInvalidTimestamp, "oldest timestamp cannot move backwards from %s to %s", cur, ts)
	}
	m.oldestTs.Store(uint64(ts))
	plog.Debugf("oldest timestamp %s", ts)
	return nil
}

func (m *Manager) OldestTimestamp() timestamp.Timestamp {
	return timestamp.Timestamp(m.oldestTs.Load())
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// AdvanceTo makes sure future ids are above id. Used when replaying a log.
func (m *Manager) AdvanceTo(id uint64) {
	m.mu.Lock()
	if m.nextID <= id {
		m.nextID = id + 1
	}
	m.mu.Unlock()
}
