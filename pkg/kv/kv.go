package kv

import (
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/cache"
	"github.com/dborchard/tempokv/pkg/chain"
	"github.com/dborchard/tempokv/pkg/config"
	"github.com/dborchard/tempokv/pkg/epoch"
	"github.com/dborchard/tempokv/pkg/evict"
	"github.com/dborchard/tempokv/pkg/hs"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/txnlog"
	"github.com/dborchard/tempokv/pkg/update"
	"github.com/dborchard/tempokv/pkg/visibility"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/dborchard/tempokv/pkg/y/logging"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logging.GetLogger("kv")

// maxDeltaRun bounds consecutive deltas on a chain; the next modify is stored
// as a full value.
const maxDeltaRun = 10

// latest sees every committed version and ignores timestamps.
var latest = &txn.Snapshot{Min: math.MaxUint64, Max: math.MaxUint64}

// Store is a multiversion record store. Superseded versions move from the
// in-memory chains to the history store as eviction decides.
type Store struct {
	cfg config.Config

	chains *xsync.MapOf[string, *chain.Chain]
	cands  *candidates
	arena  *chain.Arena

	auth   *txn.Manager
	epochs *epoch.Manager
	res    *visibility.Resolver
	hs     hs.IO
	acct   *cache.Accountant
	coord  *evict.Coordinator
	log    txnlog.Log

	// commitMu orders conflict checks, logging and appends of commits.
	commitMu sync.Mutex

	metrics   *metrics.Set
	commits   *metrics.Counter
	conflicts *metrics.Counter
	rejected  *metrics.Counter

	cancel context.CancelFunc
	closed atomic.Bool
}

// candidates is the set of chains with more than one resident version or
// versions in the history store.
type candidates struct {
	m *xsync.MapOf[*chain.Chain, struct{}]
}

func (c *candidates) Range(fn func(ch *chain.Chain) bool) {
	c.m.Range(func(ch *chain.Chain, _ struct{}) bool { return fn(ch) })
}

func (c *candidates) Add(ch *chain.Chain)    { c.m.Store(ch, struct{}{}) }
func (c *candidates) Remove(ch *chain.Chain) { c.m.Delete(ch) }

func newStore(cfg config.Config, store hs.IO, log txnlog.Log) (*Store, error) {
	s := &Store{
		cfg:     cfg,
		chains:  xsync.NewMapOf[string, *chain.Chain](),
		cands:   &candidates{m: xsync.NewMapOf[*chain.Chain, struct{}]()},
		arena:   chain.NewArena(),
		auth:    txn.NewManager(),
		epochs:  epoch.NewManager(),
		res:     visibility.NewResolver(store, cfg.TableID),
		hs:      store,
		acct:    cache.New(cfg.CacheSize, cfg.EvictTarget),
		log:     log,
		metrics: metrics.NewSet(),
	}

	coord, err := evict.New(s.auth, store, s.epochs, s.acct, s.cands, evict.Options{
		Table:     cfg.TableID,
		Interval:  cfg.EvictInterval,
		Workers:   cfg.EvictWorkers,
		HintQueue: cfg.HintQueue,
		Metrics:   s.metrics,
	})
	if err != nil {
		return nil, err
	}
	s.coord = coord
	s.acct.OnPressure(coord.EvictHint)

	s.commits = s.metrics.NewCounter(`tempokv_commits_total`)
	s.conflicts = s.metrics.NewCounter(`tempokv_write_conflicts_total`)
	s.rejected = s.metrics.NewCounter(`tempokv_commits_rejected_total`)
	s.metrics.NewGauge(`tempokv_resident_bytes`, func() float64 { return float64(s.acct.Total()) })
	s.metrics.NewGauge(`tempokv_history_bytes`, func() float64 { return float64(s.acct.History()) })
	s.metrics.NewGauge(`tempokv_chains`, func() float64 { return float64(s.chains.Size()) })
	s.metrics.NewGauge(`tempokv_eviction_candidates`, func() float64 { return float64(s.cands.m.Size()) })
	s.metrics.NewGauge(`tempokv_active_txns`, func() float64 { return float64(s.auth.ActiveCount()) })
	s.metrics.NewGauge(`tempokv_history_store_entries`, func() float64 { return float64(s.hs.Len()) })
	return s, nil
}

func (s *Store) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.coord.Start(ctx)
	plog.Infof("store open: history store %s, %d chains, %s", s.hs.Name(), s.chains.Size(), s.coord)
}

func (s *Store) Begin(opts ...txn.Option) (*Txn, error) {
	if s.closed.Load() {
		return nil, errs.ErrStoreClosed
	}
	inner, err := s.auth.Begin(opts...)
	if err != nil {
		return nil, err
	}
	return &Txn{s: s, inner: inner, writes: make(map[string]*staged)}, nil
}

func (s *Store) Read(ctx context.Context, key []byte, snap *txn.Snapshot) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, errs.ErrStoreClosed
	}
	ch, ok := s.chains.Load(string(key))
	if !ok {
		return nil, false, nil
	}

	g := s.epochs.Enter()
	defer g.Exit()
	r, err := s.res.Resolve(ctx, ch, key, snap)
	if err != nil {
		return nil, false, err
	}
	return r.Value, r.Found, nil
}

func (s *Store) Write(key []byte, m Mutation, t *Txn) error {
	if t.s != s {
		return errors.New("transaction belongs to another store")
	}
	return t.stage(key, m)
}

func (s *Store) commit(ctx context.Context, t *Txn, opts CommitOptions) error {
	if s.closed.Load() {
		s.auth.Rollback(t.inner)
		return errs.ErrStoreClosed
	}
	if !t.inner.IsRunning() {
		return errs.ErrTxnClosed
	}
	if len(t.order) == 0 {
		return s.auth.Commit(t.inner, opts.CommitTs, opts.DurableTs, nil)
	}

	// 1. Admission
	var need int64
	for _, k := range t.order {
		need += int64(t.writes[k].upd.Size())
	}
	if !s.acct.Admit(need) {
		if _, err := s.coord.Evict(ctx); err != nil && !errs.IsRetryable(err) {
			s.auth.Rollback(t.inner)
			return err
		}
		if !s.acct.Admit(need) {
			s.auth.Rollback(t.inner)
			s.rejected.Inc()
			return errors.Wrapf(errs.ErrCacheFull, "commit of %d bytes, %d of %d resident", need, s.acct.Total(), s.acct.CacheSize())
		}
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	// 2. First committer wins
	snap := t.inner.Snapshot()
	for _, k := range t.order {
		ch, ok := s.chains.Load(k)
		if !ok {
			continue
		}
		// a version hidden by the read timestamp conflicts like an unseen txn
		if newest := ch.Newest(); newest != nil && !visibility.Visible(newest, snap) {
			s.auth.Rollback(t.inner)
			s.conflicts.Inc()
			return errors.Wrapf(errs.ErrWriteConflict, "key %q was written by txn %d", k, newest.TxnID)
		}
	}

	ups, err := s.prepare(ctx, t)
	if err != nil {
		s.auth.Rollback(t.inner)
		return err
	}

	err = s.auth.Commit(t.inner, opts.CommitTs, opts.DurableTs, func(st txn.Stamp) error {
		rec := &txnlog.CommitRecord{TxnID: st.TxnID, CommitTs: st.CommitTs, DurableTs: st.DurableTs}

		// 3. Validate every key before anything is logged
		for _, ku := range ups {
			ku.Upd.TxnID, ku.Upd.CommitTs, ku.Upd.DurableTs = st.TxnID, st.CommitTs, st.DurableTs
			if ch, ok := s.chains.Load(string(ku.Key)); ok {
				if err := ch.CheckAppend(&ku.Upd); err != nil {
					return err
				}
			}
			rec.Updates = append(rec.Updates, txnlog.KeyedUpdate{Key: ku.Key, Upd: ku.Upd})
		}

		// 4. Log, then append
		if err := s.log.LogCommit(rec); err != nil {
			return errors.Wrap(err, "log commit")
		}
		for _, ku := range rec.Updates {
			if err := s.apply(ku.Key, ku.Upd); err != nil {
				// the commit is logged; a failure here is not recoverable in memory
				plog.Errorf("txn %d: append after log: %v", st.TxnID, err)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.commits.Inc()
	return nil
}

// prepare turns the write set into chain updates. Deltas with no base become
// full values, and so does a delta that would make the run of deltas too long.
func (s *Store) prepare(ctx context.Context, t *Txn) ([]txnlog.KeyedUpdate, error) {
	ups := make([]txnlog.KeyedUpdate, 0, len(t.order))
	for _, k := range t.order {
		u := t.writes[k].upd
		if u.Kind == update.Delta {
			full, err := s.materialize([]byte(k), u.Patches)
			if err != nil {
				return nil, err
			}
			if full != nil {
				u = *full
			}
		}
		ups = append(ups, txnlog.KeyedUpdate{Key: []byte(k), Upd: u})
	}
	return ups, nil
}

// materialize returns the full value a delta on key should be stored as, or nil
// to keep the delta. Caller holds commitMu.
func (s *Store) materialize(key []byte, patches []update.Patch) (*update.Update, error) {
	ch, ok := s.chains.Load(string(key))
	if !ok {
		return &update.Update{Kind: update.Value, Value: update.ApplyPatches(nil, patches)}, nil
	}

	run, base := 0, update.Value
	ch.Walk(func(e chain.Entry) bool {
		if e.Upd.Kind != update.Delta {
			base = e.Upd.Kind
			return false
		}
		run++
		return true
	})
	if run == 0 && base == update.Tombstone {
		return &update.Update{Kind: update.Value, Value: update.ApplyPatches(nil, patches)}, nil
	}
	if run < maxDeltaRun {
		return nil, nil
	}

	g := s.epochs.Enter()
	defer g.Exit()
	r, err := s.res.Resolve(context.Background(), ch, key, latest)
	if err != nil {
		return nil, err
	}
	return &update.Update{Kind: update.Value, Value: update.ApplyPatches(r.Value, patches)}, nil
}

// apply appends u to the chain of key and charges it to the accountant.
func (s *Store) apply(key []byte, u update.Update) error {
	ch, _ := s.chains.LoadOrCompute(string(key), func() *chain.Chain {
		return chain.New(append([]byte(nil), key...), s.arena)
	})
	stored, superseded, err := ch.Append(u)
	if err != nil {
		return err
	}
	s.acct.Charge(int64(stored.Size()), int64(superseded))
	if ch.Len() > 1 {
		s.cands.Add(ch)
	}
	return nil
}

func (s *Store) EvictHint(level cache.Level) {
	s.coord.EvictHint(level)
}

// Evict runs one eviction pass now.
func (s *Store) Evict(ctx context.Context) (evict.Stats, error) {
	return s.coord.Evict(ctx)
}

func (s *Store) SetOldestTimestamp(ts timestamp.Timestamp) error {
	return s.auth.SetOldestTimestamp(ts)
}

func (s *Store) HistoryLen() int { return s.hs.Len() }

func (s *Store) ResidentBytes() int64 { return s.acct.Total() }

func (s *Store) HistoryStoreName() string { return s.hs.Name() }

func (s *Store) WritePrometheus(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.coord.Close()
	s.epochs.TryReclaim()

	var err error
	if lerr := s.log.Close(); lerr != nil {
		err = errors.CombineErrors(err, lerr)
	}
	if herr := s.hs.Close(); herr != nil {
		err = errors.CombineErrors(err, herr)
	}
	return err
}
