// Package workerpool bounds how many CPU-heavy jobs run at once and how many
// may wait for a slot. Callers beyond workers+queue are turned away
// immediately with ErrQueueFull so the host can shed load instead of piling
// up goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

var (
	ErrQueueFull  = errors.New("workerpool: queue is full")
	ErrPoolClosed = errors.New("workerpool: pool is closed")
)

// Pool runs jobs on at most Workers goroutines with at most Queue waiters.
type Pool struct {
	workers int
	queue   int

	admit *semaphore.Weighted // workers + queue
	run   *semaphore.Weighted // workers

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workerpool: workers must be > 0, got %d", workers)
	}
	if queue < 0 {
		return nil, fmt.Errorf("workerpool: queue must be >= 0, got %d", queue)
	}
	return &Pool{
		workers: workers,
		queue:   queue,
		admit:   semaphore.NewWeighted(int64(workers + queue)),
		run:     semaphore.NewWeighted(int64(workers)),
	}, nil
}

func (p *Pool) Workers() int { return p.workers }
func (p *Pool) Queue() int   { return p.queue }

// Do runs fn on a pool worker and waits for its result.
//
// It returns ErrQueueFull without blocking when the pool is saturated. If ctx
// ends while waiting for a worker, ctx.Err() is returned and fn never runs. If
// ctx ends while fn is running, Do returns ctx.Err() right away; fn keeps its
// worker until it returns, and is expected to observe ctx itself.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	if !p.admit.TryAcquire(1) {
		p.mu.RUnlock()
		return ErrQueueFull
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	if err := p.run.Acquire(ctx, 1); err != nil {
		p.admit.Release(1)
		p.wg.Done()
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		defer p.admit.Release(1)
		defer p.run.Release(1)
		done <- runSafe(ctx, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops admitting work and waits for admitted jobs to finish or for ctx
// to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PanicError carries a panic raised by a job.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string { return fmt.Sprintf("workerpool: job panicked: %v", e.Value) }

func runSafe(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx)
}
