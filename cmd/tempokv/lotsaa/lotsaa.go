package lotsaa

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Output is used to print elapsed time and ops/sec
var Output io.Writer

// MemUsage is used to output the memory usage
var MemUsage bool

type Result struct {
	Ops     int64
	Errors  int64
	Threads int
	Elapsed time.Duration
	Alloc   uint64
}

func (r Result) PerSec() int64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return int64(float64(r.Ops) / r.Elapsed.Seconds())
}

// Ops runs op on threads goroutines until duration passes or ctx is done.
// An op returning an error is counted but does not stop its goroutine.
func Ops(ctx context.Context, duration time.Duration, threads int, op func(threadRand *rand.Rand, threadIdx int) error) Result {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var ms1 runtime.MemStats
	if MemUsage {
		runtime.GC()
		runtime.ReadMemStats(&ms1)
	}
	start := time.Now()

	var (
		wg         sync.WaitGroup
		totalCount atomic.Int64
		errCount   atomic.Int64
	)
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func(i int) {
			defer wg.Done()
			randGen := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
			for ctx.Err() == nil {
				if err := op(randGen, i); err != nil {
					errCount.Add(1)
				}
				totalCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	res := Result{Ops: totalCount.Load(), Errors: errCount.Load(), Threads: threads, Elapsed: time.Since(start)}
	if MemUsage {
		runtime.GC()
		var ms2 runtime.MemStats
		runtime.ReadMemStats(&ms2)
		if ms2.HeapAlloc > ms1.HeapAlloc {
			res.Alloc = ms2.HeapAlloc - ms1.HeapAlloc
		}
	}
	if Output != nil {
		WriteOutput(Output, res)
	}
	return res
}

func commaize(n int64) string {
	s1, s2 := fmt.Sprintf("%d", n), ""
	for i, j := len(s1)-1, 0; i >= 0; i, j = i-1, j+1 {
		if j%3 == 0 && j != 0 {
			s2 = "," + s2
		}
		s2 = string(s1[i]) + s2
	}
	return s2
}

// WriteOutput writes an output line to the specified writer
func WriteOutput(w io.Writer, r Result) {
	fmt.Fprintf(w, "%d threads %s ops/sec (%s ops, %s errors) in %s",
		r.Threads, commaize(r.PerSec()), commaize(r.Ops), commaize(r.Errors), r.Elapsed.Round(time.Millisecond))
	if MemUsage {
		fmt.Fprintf(w, ", %s bytes allocated", commaize(int64(r.Alloc)))
	}
	fmt.Fprintln(w)
}
