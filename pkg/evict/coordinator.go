package evict

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/RussellLuo/timingwheel"
	"github.com/VictoriaMetrics/metrics"
	"github.com/alphadose/zenq/v2"
	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/cache"
	"github.com/dborchard/tempokv/pkg/chain"
	"github.com/dborchard/tempokv/pkg/epoch"
	"github.com/dborchard/tempokv/pkg/hs"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/dborchard/tempokv/pkg/y/logging"
	"github.com/panjf2000/ants/v2"
)

var plog = logging.GetLogger("evict")

// Candidates is the set of chains that may hold evictable versions.
type Candidates interface {
	Range(fn func(c *chain.Chain) bool)
	Add(c *chain.Chain)
	Remove(c *chain.Chain)
}

type Options struct {
	Table uint32
	// Interval between periodic passes. Zero leaves eviction to hints and explicit calls.
	Interval  time.Duration
	Workers   int
	HintQueue uint32
	Metrics   *metrics.Set
}

// Coordinator moves superseded versions from chains into the history store.
type Coordinator struct {
	opts   Options
	auth   *txn.Manager
	hs     hs.IO
	epochs *epoch.Manager
	acct   *cache.Accountant
	cands  Candidates

	pool  *ants.Pool
	hints *zenq.ZenQ[cache.Level]
	// hintPending coalesces hints while one is queued
	hintPending atomic.Bool

	wheel *timingwheel.TimingWheel
	timer *timingwheel.Timer

	passMu sync.Mutex
	moAvg  *movingaverage.MovingAverage

	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup

	migrated  *metrics.Counter
	dropped   *metrics.Counter
	removed   *metrics.Counter
	passes    *metrics.Counter
	cacheFull *metrics.Counter
	passTime  *metrics.Histogram
}

func New(auth *txn.Manager, store hs.IO, epochs *epoch.Manager, acct *cache.Accountant, cands Candidates, opts Options) (*Coordinator, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.HintQueue == 0 {
		opts.HintQueue = 64
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "eviction worker pool")
	}

	set := opts.Metrics
	c := &Coordinator{
		opts:      opts,
		auth:      auth,
		hs:        store,
		epochs:    epochs,
		acct:      acct,
		cands:     cands,
		pool:      pool,
		hints:     zenq.New[cache.Level](opts.HintQueue),
		moAvg:     movingaverage.New(60),
		stop:      make(chan struct{}),
		migrated:  set.NewCounter(`tempokv_evicted_versions_total{action="migrated"}`),
		dropped:   set.NewCounter(`tempokv_evicted_versions_total{action="dropped"}`),
		removed:   set.NewCounter(`tempokv_history_removed_total`),
		passes:    set.NewCounter(`tempokv_eviction_passes_total`),
		cacheFull: set.NewCounter(`tempokv_cache_full_total`),
		passTime:  set.NewHistogram(`tempokv_eviction_pass_duration_seconds`),
	}
	set.NewGauge(`tempokv_reclaim_pending`, func() float64 { return float64(epochs.Pending()) })
	return c, nil
}

// Start runs the hint listener and, when configured, the periodic scheduler.
func (c *Coordinator) Start(ctx context.Context) {
	// Ctx listener
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			c.hints.Close()
		case <-c.stop:
		}
	}()

	// Hint reader
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			lvl, open := c.hints.Read()
			if !open {
				return
			}
			c.hintPending.Store(false)
			if lvl == cache.None {
				continue
			}
			if _, err := c.Evict(ctx); err != nil && !errs.IsRetryable(err) && ctx.Err() == nil {
				plog.Errorf("eviction pass failed: %v", err)
			}
		}
	}()

	if c.opts.Interval > 0 {
		c.wheel = timingwheel.NewTimingWheel(tickFor(c.opts.Interval), 60)
		c.wheel.Start()
		c.timer = c.wheel.ScheduleFunc(every(c.opts.Interval), func() {
			if c.acct.History() > 0 || c.epochs.Pending() > 0 {
				c.EvictHint(cache.Low)
			}
		})
	}
}

type every time.Duration

func (e every) Next(prev time.Time) time.Time {
	return prev.Add(time.Duration(e))
}

func tickFor(interval time.Duration) time.Duration {
	tick := interval / 10
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	return tick
}

// EvictHint asks for a background pass. Hints arriving while one is queued are dropped.
func (c *Coordinator) EvictHint(level cache.Level) {
	if level == cache.None || c.closed.Load() {
		return
	}
	if !c.hintPending.CompareAndSwap(false, true) {
		return
	}
	if closed := c.hints.Write(level); closed {
		c.hintPending.Store(false)
	}
}

// Stats summarizes one pass.
type Stats struct {
	Chains   int
	Migrated int
	Dropped  int
	Removed  int
	Freed    int64
	Duration time.Duration
}

func (s *Stats) add(o Stats) {
	s.Chains += o.Chains
	s.Migrated += o.Migrated
	s.Dropped += o.Dropped
	s.Removed += o.Removed
	s.Freed += o.Freed
}

// Evict runs one pass over every candidate chain. It returns ErrCacheFull when
// resident memory stays above the cache size afterwards.
func (c *Coordinator) Evict(ctx context.Context) (Stats, error) {
	if c.closed.Load() {
		return Stats{}, errs.ErrStoreClosed
	}
	c.passMu.Lock()
	defer c.passMu.Unlock()

	startTs := time.Now()

	// 1. Pinned boundary
	b := c.auth.PinnedBoundary()

	// 2. Collect candidate chains
	var chains []*chain.Chain
	c.cands.Range(func(ch *chain.Chain) bool {
		chains = append(chains, ch)
		return true
	})

	// 3. Migrate in parallel
	var (
		mu       sync.Mutex
		total    Stats
		firstErr error
		wg       sync.WaitGroup
	)
	for _, ch := range chains {
		if err := ctx.Err(); err != nil {
			firstErr = err
			break
		}
		ch := ch
		task := func() {
			defer wg.Done()
			s, err := c.evictChain(ch, b)
			mu.Lock()
			total.add(s)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
		wg.Add(1)
		if err := c.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	// 4. Free what no reader can see any more
	c.epochs.TryReclaim()

	total.Duration = time.Since(startTs)
	c.moAvg.Add(float64(total.Duration.Nanoseconds()))
	c.passes.Inc()
	c.passTime.Update(total.Duration.Seconds())
	c.migrated.Add(total.Migrated)
	c.dropped.Add(total.Dropped)
	c.removed.Add(total.Removed)
	plog.Debugf("Evicted %d versions (%d migrated, %d dropped) from %d chains in %s. Avg pass time %s",
		total.Migrated+total.Dropped, total.Migrated, total.Dropped, total.Chains, total.Duration, time.Duration(c.moAvg.Avg()))

	if firstErr != nil {
		return total, firstErr
	}
	if c.acct.Level() == cache.Critical {
		c.cacheFull.Inc()
		return total, errors.Wrapf(errs.ErrCacheFull, "resident %d bytes, cache size %d, %d reclaims pending",
			c.acct.Total(), c.acct.CacheSize(), c.epochs.Pending())
	}
	return total, nil
}

// AvgPassTime is the moving average of recent pass durations.
func (c *Coordinator) AvgPassTime() time.Duration {
	c.passMu.Lock()
	defer c.passMu.Unlock()
	return time.Duration(c.moAvg.Avg())
}

func (c *Coordinator) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.wheel != nil {
		c.wheel.Stop()
	}
	close(c.stop)
	c.hints.Close()
	c.wg.Wait()
	c.pool.Release()
}

func (c *Coordinator) String() string {
	return fmt.Sprintf("evict{workers=%d interval=%s}", c.opts.Workers, c.opts.Interval)
}
