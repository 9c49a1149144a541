// Package cache tracks resident version memory and turns it into eviction pressure.
package cache

import (
	"fmt"
	"sync/atomic"
)

type Level int

const (
	None Level = iota
	Low
	High
	Critical
)

func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Low:
		return "low"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Accountant counts resident bytes. History bytes are the superseded versions
// still held in memory; they are the only part eviction can release.
type Accountant struct {
	cacheSize   int64
	evictTarget int64

	total   atomic.Int64
	history atomic.Int64

	notify atomic.Pointer[func(Level)]
}

// New creates an accountant. A zero cacheSize disables admission control; a
// zero evictTarget disables pressure from history bytes.
func New(cacheSize, evictTarget int64) *Accountant {
	return &Accountant{cacheSize: cacheSize, evictTarget: evictTarget}
}

// OnPressure registers the callback invoked when a charge leaves the cache
// above None.
func (a *Accountant) OnPressure(fn func(Level)) {
	a.notify.Store(&fn)
}

// Charge records a new resident version of size bytes that superseded a
// version of superseded bytes.
func (a *Accountant) Charge(size, superseded int64) {
	a.total.Add(size)
	a.history.Add(superseded)
	if lvl := a.Level(); lvl > None {
		if fn := a.notify.Load(); fn != nil {
			(*fn)(lvl)
		}
	}
}

// Release returns superseded versions freed by eviction.
func (a *Accountant) Release(bytes int64) {
	a.total.Add(-bytes)
	a.history.Add(-bytes)
}

func (a *Accountant) Level() Level {
	total, history := a.total.Load(), a.history.Load()
	switch {
	case a.cacheSize > 0 && total >= a.cacheSize:
		return Critical
	case a.cacheSize > 0 && total >= a.cacheSize/10*9:
		return High
	case a.evictTarget > 0 && history >= 2*a.evictTarget:
		return High
	case a.evictTarget > 0 && history >= a.evictTarget:
		return Low
	default:
		return None
	}
}

// Admit reports whether n more bytes fit under the cache size.
func (a *Accountant) Admit(n int64) bool {
	return a.cacheSize <= 0 || a.total.Load()+n <= a.cacheSize
}

func (a *Accountant) Total() int64     { return a.total.Load() }
func (a *Accountant) History() int64   { return a.history.Load() }
func (a *Accountant) CacheSize() int64 { return a.cacheSize }
