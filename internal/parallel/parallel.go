// Package parallel splits independent kernel iterations across goroutines.
//
// It is the only source of concurrency in the module: a single explanation
// run is sequential, and only the inner loops of the CPU kernels fan out.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how loops are split.
type Config struct {
	Workers  int // Goroutines per loop; 1 disables parallelism.
	MinItems int // Loops shorter than this run inline.
}

// NewConfig returns a config using the given number of workers.
// A non-positive count means one worker per CPU.
func NewConfig(workers int) Config {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return Config{Workers: workers, MinItems: 2}
}

// Sequential returns a config that never spawns goroutines.
func Sequential() Config {
	return Config{Workers: 1}
}

// For executes f(i) for i in [0, n). Iterations must be independent.
func For(n int, cfg Config, f func(i int)) {
	if cfg.Workers <= 1 || n < max(cfg.MinItems, 2) {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	workers := min(cfg.Workers, n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForPairs iterates the outer x inner grid, e.g. batch x conv group.
func ForPairs(outer, inner int, cfg Config, f func(o, i int)) {
	For(outer*inner, cfg, func(k int) {
		f(k/inner, k%inner)
	})
}
