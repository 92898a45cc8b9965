package binflow

import (
	"context"
	"time"
)

// DefaultYield is the backoff a Runner applies after an activation that
// performed no work.
const DefaultYield = time.Second

// Runner invokes an Engine's Trigger in a loop, backing off for the yield
// duration whenever an activation performs no work. It is the simplest
// external scheduler; hosts with their own scheduling can call
// Engine.Trigger directly instead.
type Runner struct {
	engine *Engine
	yield  time.Duration
	clock  Clock
	logger Logger
}

// NewRunner creates a Runner for the given engine. A yield of zero or less
// uses DefaultYield.
func NewRunner(engine *Engine, yield time.Duration) *Runner {
	if yield <= 0 {
		yield = DefaultYield
	}
	return &Runner{
		engine: engine,
		yield:  yield,
		clock:  RealClock,
		logger: &NoOpLogger{},
	}
}

// WithClock sets the clock used for yield backoff.
func (r *Runner) WithClock(clock Clock) *Runner {
	r.clock = clock
	return r
}

// WithLogger sets the runner's logger.
func (r *Runner) WithLogger(logger Logger) *Runner {
	r.logger = logger
	return r
}

// Run triggers the engine until ctx is canceled, then purges the engine and
// returns the context's error. Idle activations wait for the yield duration
// before the next trigger; busy activations proceed immediately.
func (r *Runner) Run(ctx context.Context) error {
	defer r.engine.Purge()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if r.engine.Trigger(ctx) {
			continue
		}

		r.logger.Debug("no work performed; yielding for %v", r.yield)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.yield):
		}
	}
}
