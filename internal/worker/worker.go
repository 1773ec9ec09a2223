// Package worker supervises N identical server instances in one process,
// each with its own registry, observer and store connections. Instances
// coordinate only through the shared store, never through shared memory.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run invokes run once per worker and blocks until all return. The first
// error cancels the context handed to the remaining workers.
func Run(ctx context.Context, numWorkers int, run func(ctx context.Context, worker int) error) error {
	if numWorkers < 1 {
		numWorkers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		i := i
		g.Go(func() error {
			return run(ctx, i)
		})
	}
	return g.Wait()
}
