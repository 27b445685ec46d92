// Package governor bounds concurrent work with an atomic counter of
// in-flight workers capped by hardware parallelism, falling back to
// inline execution on the caller's own goroutine as backpressure
// instead of queueing.
package governor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/automaxprocs/maxprocs"
)

// Governor bounds concurrent work. The zero value is not usable;
// construct with New.
type Governor struct {
	ceiling  int32
	inFlight atomic.Int32

	inlineRuns  atomic.Uint64
	spawnedRuns atomic.Uint64
}

// adjustGOMAXPROCS runs automaxprocs.Set at most once per process, so
// GOMAXPROCS(0) below reflects the cgroup CPU quota rather than the
// host's full core count when running under a container limit. A
// caller that already called maxprocs.Set itself (cmd/shredstream
// does, to get its undo func and a logger) just pays a harmless
// no-op second call.
var adjustGOMAXPROCSOnce sync.Once

func adjustGOMAXPROCS() {
	adjustGOMAXPROCSOnce.Do(func() {
		_, _ = maxprocs.Set()
	})
}

// New creates a Governor with the given ceiling. A ceiling <= 0 is
// clamped to runtime.GOMAXPROCS(0) after adjusting GOMAXPROCS for the
// container's CPU quota, i.e. effective hardware parallelism.
func New(ceiling int) *Governor {
	if ceiling <= 0 {
		adjustGOMAXPROCS()
		ceiling = runtime.GOMAXPROCS(0)
	}
	return &Governor{ceiling: int32(ceiling)}
}

// Run admits work under the governor: if the in-flight count is below
// ceiling, work runs on a spawned goroutine (decrementing the counter
// on completion); otherwise it runs inline on the caller's goroutine.
// Run never blocks the caller waiting for a slot.
func (g *Governor) Run(work func()) {
	for {
		cur := g.inFlight.Load()
		if cur >= g.ceiling {
			g.inlineRuns.Add(1)
			work()
			return
		}
		if g.inFlight.CompareAndSwap(cur, cur+1) {
			g.spawnedRuns.Add(1)
			go func() {
				defer g.inFlight.Add(-1)
				work()
			}()
			return
		}
		// lost the race to another admitter; retry
	}
}

// InFlight reports the current number of spawned (non-inline) workers.
// It never exceeds the ceiling.
func (g *Governor) InFlight() int32 { return g.inFlight.Load() }

func (g *Governor) Ceiling() int32 { return g.ceiling }

func (g *Governor) InlineRuns() uint64  { return g.inlineRuns.Load() }
func (g *Governor) SpawnedRuns() uint64 { return g.spawnedRuns.Load() }
