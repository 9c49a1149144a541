// Package epoch implements epoch based reclamation for records unlinked from
// version chains while readers may still be walking them.
package epoch

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type Manager struct {
	global atomic.Uint64
	guards *xsync.MapOf[*Guard, struct{}]

	mu      sync.Mutex
	retired []retired
	pending atomic.Int64
}

type retired struct {
	epoch uint64
	free  func()
}

// Guard pins the epoch a reader entered in. Records retired at or after that
// epoch stay allocated until the guard exits.
type Guard struct {
	m     *Manager
	epoch atomic.Uint64
}

func NewManager() *Manager {
	m := &Manager{guards: xsync.NewMapOf[*Guard, struct{}]()}
	m.global.Store(1)
	return m
}

func (m *Manager) Enter() *Guard {
	g := &Guard{m: m}
	// register before reading the epoch; a zero epoch blocks every reclaim
	m.guards.Store(g, struct{}{})
	g.epoch.Store(m.global.Load())
	return g
}

func (g *Guard) Exit() {
	g.m.guards.Delete(g)
}

func (g *Guard) Epoch() uint64 { return g.epoch.Load() }

// Retire schedules free to run once every guard entered before this call has exited.
func (m *Manager) Retire(free func()) {
	m.mu.Lock()
	e := m.global.Add(1) - 1
	m.retired = append(m.retired, retired{epoch: e, free: free})
	m.mu.Unlock()
	m.pending.Add(1)
}

func (m *Manager) minActive() uint64 {
	low := uint64(math.MaxUint64)
	m.guards.Range(func(g *Guard, _ struct{}) bool {
		if e := g.epoch.Load(); e < low {
			low = e
		}
		return true
	})
	return low
}

// TryReclaim runs every retired callback no guard can still observe and
// returns how many ran.
func (m *Manager) TryReclaim() int {
	low := m.minActive()

	m.mu.Lock()
	var ready []func()
	kept := m.retired[:0]
	for _, r := range m.retired {
		if r.epoch < low {
			ready = append(ready, r.free)
		} else {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(m.retired); i++ {
		m.retired[i] = retired{}
	}
	m.retired = kept
	m.mu.Unlock()

	for _, free := range ready {
		free()
	}
	m.pending.Add(-int64(len(ready)))
	return len(ready)
}

func (m *Manager) Pending() int64 { return m.pending.Load() }

func (m *Manager) ActiveGuards() int { return m.guards.Size() }

// Drain reclaims until nothing is pending or ctx is done.
func (m *Manager) Drain(ctx context.Context) error {
	delay := time.Millisecond
	for {
		m.TryReclaim()
		if m.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 100*time.Millisecond {
			delay *= 2
		}
	}
}
