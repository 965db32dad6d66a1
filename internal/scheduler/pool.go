package scheduler

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of segment transfers running across all jobs.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *Pool) Release() {
	p.sem.Release(1)
}

func (p *Pool) Size() int {
	return p.size
}
