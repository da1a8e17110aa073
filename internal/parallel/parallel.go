// Package parallel splits independent kernel iterations across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config bounds the fan-out of a kernel.
type Config struct {
	Workers  int // upper bound on goroutines
	MinChunk int // fewer items than this per goroutine runs inline
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU(), MinChunk: 64}
}

// Range calls f over contiguous chunks covering [0, n). Chunks run
// concurrently when n spans at least two chunks; f must only touch
// state owned by its chunk. A panic in any chunk is re-raised on the
// calling goroutine once every chunk has returned.
func Range(n int, cfg Config, f func(start, end int)) {
	if n <= 0 {
		return
	}
	chunk := max((n+cfg.Workers-1)/max(cfg.Workers, 1), cfg.MinChunk, 1)
	if cfg.Workers <= 1 || chunk >= n {
		f(0, n)
		return
	}

	var (
		wg    sync.WaitGroup
		once  sync.Once
		fault any
	)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					once.Do(func() { fault = r })
				}
			}()
			f(start, end)
		}()
	}
	wg.Wait()
	if fault != nil {
		panic(fault)
	}
}

// Grid calls f for every cell of a rows x cols grid, e.g. batch x channels.
func Grid(rows, cols int, cfg Config, f func(i, j int)) {
	if cols <= 0 {
		return
	}
	Range(rows*cols, cfg, func(start, end int) {
		for k := start; k < end; k++ {
			f(k/cols, k%cols)
		}
	})
}
