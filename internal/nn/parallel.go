package nn

import (
	"runtime"
	"sync"
	"sync/atomic"
)

var workerCount atomic.Int32

func init() {
	workerCount.Store(int32(runtime.NumCPU()))
}

// SetWorkers bounds the goroutines used by a single layer pass. n < 1 resets
// to the number of CPUs.
func SetWorkers(n int) {
	if n < 1 {
		n = runtime.NumCPU()
	}
	workerCount.Store(int32(n))
}

// Workers reports the current per-pass goroutine bound.
func Workers() int { return int(workerCount.Load()) }

type span struct{ lo, hi int }

// spans splits [0, n) into at most Workers() contiguous ranges.
func spans(n int) []span {
	if n <= 0 {
		return nil
	}
	w := Workers()
	if w > n {
		w = n
	}
	out := make([]span, 0, w)
	chunk := (n + w - 1) / w
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		out = append(out, span{lo, hi})
	}
	return out
}

// parallel runs fn over each span concurrently; worker is the span's index.
func parallel(parts []span, fn func(worker, lo, hi int)) {
	if len(parts) == 1 {
		fn(0, parts[0].lo, parts[0].hi)
		return
	}
	var wg sync.WaitGroup
	for i, p := range parts {
		wg.Add(1)
		go func(i int, p span) {
			defer wg.Done()
			fn(i, p.lo, p.hi)
		}(i, p)
	}
	wg.Wait()
}
