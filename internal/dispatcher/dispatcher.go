// Package dispatcher runs pools of queue consumers and waits for them to
// drain on shutdown.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner consumes work until its context is canceled.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context)

func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

type pool struct {
	name   string
	size   int
	runner Runner
}

// Dispatcher owns the consumer goroutines of the process.
type Dispatcher struct {
	logger *zap.Logger
	pools  []pool
}

// New constructs an empty dispatcher.
func New(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// AddPool registers size copies of the runner under a name used in logs.
func (d *Dispatcher) AddPool(name string, size int, runner Runner) {
	if size <= 0 {
		size = 1
	}
	d.pools = append(d.pools, pool{name: name, size: size, runner: runner})
}

// Run starts every pool and blocks until all runners return. Runners return
// when ctx is canceled or their queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range d.pools {
		d.logger.Info("starting worker pool",
			zap.String("pool", p.name),
			zap.Int("size", p.size))
		for i := 0; i < p.size; i++ {
			wg.Add(1)
			go func(r Runner) {
				defer wg.Done()
				r.Run(ctx)
			}(p.runner)
		}
	}
	wg.Wait()
	d.logger.Info("all worker pools stopped")
}
