// Package syncdispatch runs the synchronous (WSGI-shaped) application
// contract under a bounded worker pool, collecting the full response before
// any bytes reach the wire (§4.3, §4.10).
package syncdispatch

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/WhileEndless/go-rawserve/pkg/constants"
)

// PoolSize returns the worker-pool capacity: min(128, cpu*8+16), per §4.10.
func PoolSize() int {
	n := runtime.NumCPU()*constants.WorkerPoolPerCPU + constants.WorkerPoolBase
	if n > constants.MaxWorkerPoolSize {
		n = constants.MaxWorkerPoolSize
	}
	return n
}

// Pool admits at most PoolSize() concurrent synchronous dispatches, using a
// weighted semaphore for admission control rather than a fixed goroutine
// pool, so a burst of short requests never blocks behind idle workers.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool builds a pool sized by PoolSize.
func NewPool() *Pool {
	return &Pool{sem: semaphore.NewWeighted(int64(PoolSize()))}
}

// Acquire blocks until a dispatch slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release frees a dispatch slot.
func (p *Pool) Release() {
	p.sem.Release(1)
}
