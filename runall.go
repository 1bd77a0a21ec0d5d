package rtsim

import (
	"context"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// RunAll runs independent simulations in parallel, at most limit at a time
// (no limit when limit <= 0), and returns the combined errors of their runs.
// When ctx is done every simulation is stopped.
func RunAll(ctx context.Context, limit int, sims ...*Simulation) error {
	errs := make([]error, len(sims))
	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			for _, sim := range sims {
				sim.Stop()
			}
		case <-done:
		}
	}()

	for i, sim := range sims {
		i, sim := i, sim
		group.Go(func() error {
			errs[i] = sim.Run()
			return nil
		})
	}
	_ = group.Wait()
	return multierr.Combine(errs...)
}
