// Package async provides the bounded worker pools and futures the engine
// schedules blocking database work on.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolClosed is returned when work is submitted to a closed pool.
	ErrPoolClosed = errors.New("pool closed")
	// ErrPending is returned by Future.Result before the future completes.
	ErrPending = errors.New("future not completed")
	// ErrNoPool is returned when work is submitted to a nil pool.
	ErrNoPool = errors.New("no pool")
)

// Pool runs submitted functions with at most size of them in flight.
// Submit never blocks the caller; excess work queues on the semaphore.
type Pool struct {
	name string
	sem  *semaphore.Weighted
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool running at most size functions at once. A size
// below one is treated as one.
func NewPool(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{name: name, sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Submit schedules fn. It fails when the pool is closed or nil.
func (p *Pool) Submit(fn func()) error {
	if p == nil {
		return ErrNoPool
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("%s: %w", p.name, ErrPoolClosed)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Acquire with a background context only fails if the weight
		// exceeds the pool size, which cannot happen for a weight of one.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Close rejects further submissions and waits for queued and running work.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
