// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"sync"
)

// Runner is a long-lived loop that returns when its context ends or its
// input is exhausted.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers []Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Size reports how many workers the dispatcher runs.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one of them has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
