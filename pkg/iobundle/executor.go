package iobundle

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrExecutorClosed = errors.New("executor closed")

const defaultWorkers = 64

// Executor runs tasks on goroutines, at most `workers` at a time.
type Executor struct {
	sem *semaphore.Weighted

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Executor{sem: semaphore.NewWeighted(int64(workers))}
}

// Submit schedules fn and returns its pending result. A task that cannot get
// a worker slot before ctx is done completes with ctx's error.
func Submit[T any](e *Executor, ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		var zero T
		f.Complete(zero, ErrExecutorClosed)
		return f
	}
	e.wg.Add(1)
	e.mu.RUnlock()

	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			var zero T
			f.Complete(zero, err)
			return
		}
		defer e.sem.Release(1)
		f.Complete(fn(ctx))
	}()
	return f
}

// Close rejects new tasks and waits for submitted ones to finish.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
