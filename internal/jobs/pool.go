package jobs

import (
	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize is the number of workers used when NewPool gets size <= 0.
const DefaultPoolSize = 8

// Pool bounds how many jobs run at once across every owner that shares it.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewPool returns a pool with size workers. If size <= 0, DefaultPoolSize is used.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return int(p.size)
}

// Go runs fn on a new goroutine once a worker is free. If tok is cancelled
// while waiting, fn still runs, without a worker, so that it can observe the
// cancellation and return at its first checkpoint.
func (p *Pool) Go(tok *Token, fn func()) {
	go func() {
		if err := p.sem.Acquire(tok.Context(), 1); err != nil {
			fn()
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}
